//go:build linux

package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// readInputEvents reads from all devices with a single epoll loop. The
// kernel wakes us only when a device has data, so one goroutine covers
// any number of pads and encoders. Closing done terminates the loop; a
// self-pipe registered in the epoll set interrupts the wait.
func readInputEvents(files []*os.File, events chan<- inputEvent, readErr chan<- error, done <-chan struct{}) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		readErr <- fmt.Errorf("epoll_create1: %w", err)
		return
	}
	defer unix.Close(epfd)

	var pipeFds [2]int
	if err := unix.Pipe(pipeFds[:]); err != nil {
		readErr <- fmt.Errorf("pipe: %w", err)
		return
	}
	defer unix.Close(pipeFds[0])
	defer unix.Close(pipeFds[1])

	wake := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(pipeFds[0])}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, pipeFds[0], &wake); err != nil {
		readErr <- fmt.Errorf("epoll_ctl_add wake pipe: %w", err)
		return
	}
	go func() {
		<-done
		unix.Write(pipeFds[1], []byte{0})
	}()

	fdToFile := make(map[int]*os.File)
	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			readErr <- fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
			return
		}
	}

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		n, err := unix.EpollWait(epfd, epollEvents, -1)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			readErr <- fmt.Errorf("epoll_wait: %w", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			if fd == pipeFds[0] {
				return
			}
			f := fdToFile[fd]

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				readErr <- fmt.Errorf("device error/hangup: %s", f.Name())
				return
			}

			if _, err := f.Read(buf); err != nil {
				readErr <- fmt.Errorf("read from %s: %w", f.Name(), err)
				return
			}

			reader.Reset(buf)
			var ev inputEvent
			if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
				// Skip malformed events
				continue
			}

			select {
			case events <- ev:
			case <-done:
				return
			}
		}
	}
}
