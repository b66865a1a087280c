package usb

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// urbReaper multiplexes completion of every URB submitted against one
// DeviceHandle through a single epoll-driven goroutine, instead of spawning a
// blocking REAPURB call per in-flight transfer. usbfs reports a submitted URB
// as reapable by making the device fd writable, so we epoll for EPOLLOUT and
// drain with REAPURBNDELAY until it returns EAGAIN.
type urbReaper struct {
	fd      int
	epfd    int
	stopFd  int
	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	pending map[uintptr]func(error)
}

func newURBReaper(fd int) (*urbReaper, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	stopFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	r := &urbReaper{
		fd:      fd,
		epfd:    epfd,
		stopFd:  stopFd,
		done:    make(chan struct{}),
		pending: make(map[uintptr]func(error)),
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLOUT,
		Fd:     int32(fd),
	}); err != nil {
		unix.Close(epfd)
		unix.Close(stopFd)
		return nil, fmt.Errorf("epoll_ctl add device fd: %w", err)
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, stopFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(stopFd),
	}); err != nil {
		unix.Close(epfd)
		unix.Close(stopFd)
		return nil, fmt.Errorf("epoll_ctl add stop fd: %w", err)
	}

	go r.loop()

	return r, nil
}

// register associates a pending URB's address with its completion callback.
func (r *urbReaper) register(urbPtr uintptr, cb func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[urbPtr] = cb
}

func (r *urbReaper) loop() {
	defer close(r.done)

	events := make([]unix.EpollEvent, 4)
	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}

		stopped := false
		for i := 0; i < n; i++ {
			if int(events[i].Fd) == r.stopFd {
				stopped = true
			}
		}

		r.drain()

		if stopped {
			return
		}
	}
}

// drain reaps every URB currently completable without blocking, dispatching
// each to its registered callback.
func (r *urbReaper) drain() {
	for {
		var urbPtr uintptr

		_, _, errno := unix.Syscall(
			unix.SYS_IOCTL,
			uintptr(r.fd),
			USBDEVFS_REAPURBNDELAY,
			uintptr(unsafe.Pointer(&urbPtr)),
		)

		if errno != 0 {
			if errno == unix.EAGAIN {
				return
			}
			return
		}

		r.mu.Lock()
		cb, ok := r.pending[urbPtr]
		if ok {
			delete(r.pending, urbPtr)
		}
		r.mu.Unlock()

		if ok {
			cb(nil)
		}
	}
}

func (r *urbReaper) stop() {
	r.once.Do(func() {
		var one [8]byte
		one[0] = 1
		unix.Write(r.stopFd, one[:])
		<-r.done
		unix.Close(r.epfd)
		unix.Close(r.stopFd)
	})
}

// registerURBCompletion lazily starts h's reaper goroutine and registers a
// callback to be invoked when the URB at urbPtr is reaped.
func (h *DeviceHandle) registerURBCompletion(urbPtr uintptr, cb func(error)) error {
	h.mu.Lock()
	if h.reaper == nil {
		reaper, err := newURBReaper(h.fd)
		if err != nil {
			h.mu.Unlock()
			return err
		}
		h.reaper = reaper
	}
	reaper := h.reaper
	h.mu.Unlock()

	reaper.register(urbPtr, cb)
	return nil
}
