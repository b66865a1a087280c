package uvc

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	usb "github.com/corevid/uvccore"
)

// PacketHandler is invoked once per non-empty, successfully completed iso
// packet, in submission order within a transfer and transfer-completion
// order across transfers (spec §4.4/§5's ordering guarantees). It must not
// retain buf beyond the call.
type PacketHandler func(buf []byte)

// scheduler is the Iso Transfer Scheduler of spec §4.4: it keeps NumTransfers
// isochronous transfers in flight, resubmitting each as it completes, and
// hands completed packets to a single consumer (onPacket) in order.
//
// Per the "pick one model, do not mix" Design Note, this uses the dedicated
// event-loop-thread model: one goroutine per transfer blocks on that
// transfer's Wait() (itself backed by the root package's shared URB reaper)
// and feeds a single completions channel; a single run goroutine drains that
// channel and is the only caller of onPacket, giving the reassembler its
// required single-consumer view despite completions racing in from multiple
// transfers.
type scheduler struct {
	handle     *usb.DeviceHandle
	endpoint   uint8
	numPackets int
	packetSize int

	onPacket      PacketHandler
	onPacketError func()
	onFatal       func(error)
	stats         *Stats

	mu        sync.Mutex
	stopping  bool
	transfers []*usb.IsochronousTransfer

	completions chan completion
	wg          sync.WaitGroup // feeder goroutines
	consumerWg  sync.WaitGroup // run goroutine
}

type completion struct {
	transfer *usb.IsochronousTransfer
	seq      uint64
	err      error
}

// newScheduler constructs a scheduler without starting it.
func newScheduler(handle *usb.DeviceHandle, endpoint uint8, numTransfers, numPackets, packetSize int, onPacket PacketHandler, onPacketError func(), onFatal func(error), stats *Stats) *scheduler {
	return &scheduler{
		handle:        handle,
		endpoint:      endpoint,
		numPackets:    numPackets,
		packetSize:    packetSize,
		onPacket:      onPacket,
		onPacketError: onPacketError,
		onFatal:       onFatal,
		stats:         stats,
		completions:   make(chan completion, numTransfers*2),
	}
}

// start allocates the initial fleet of transfers, submits them, and launches
// the single consumer goroutine plus one feeder goroutine per transfer.
func (s *scheduler) start(ctx context.Context, n int) error {
	g, _ := errgroup.WithContext(ctx)
	allocated := make([]*usb.IsochronousTransfer, n)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			t, err := s.handle.NewIsochronousTransfer(s.endpoint, s.numPackets, s.packetSize)
			if err != nil {
				return err
			}
			allocated[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	s.transfers = allocated
	s.mu.Unlock()

	s.consumerWg.Add(1)
	go s.run()

	for i, t := range allocated {
		if err := t.Submit(); err != nil {
			return err
		}
		s.wg.Add(1)
		go s.feed(t, uint64(i))
	}

	return nil
}

// feed blocks on one transfer's completion, reports it to the single
// consumer, and resubmits unless the scheduler is stopping (spec §4.4's
// per-transfer lifecycle: SUBMITTED -> callback fires -> resubmitted).
func (s *scheduler) feed(t *usb.IsochronousTransfer, seq uint64) {
	defer s.wg.Done()

	for {
		err := t.Wait()

		s.completions <- completion{transfer: t, seq: seq, err: err}

		s.mu.Lock()
		stopping := s.stopping
		s.mu.Unlock()
		if stopping || err != nil {
			return
		}

		if err := t.Submit(); err != nil {
			s.mu.Lock()
			s.stopping = true
			s.mu.Unlock()
			if s.onFatal != nil {
				s.onFatal(&TransferError{Kind: TransferNoDevice, cause: err})
			}
			return
		}
	}
}

// run is the single event-loop goroutine: it is the only goroutine that
// ever calls onPacket, satisfying the reassembler's single-consumer
// requirement even though completions fan in from many transfers. Per spec
// §5 decision 2, a transfer completing out of the expected round-robin slot
// order is counted and marks the in-progress frame errored; per §4.4, a
// packet with a non-OK status does likewise instead of vanishing silently.
func (s *scheduler) run() {
	defer s.consumerWg.Done()

	s.mu.Lock()
	numTransfers := len(s.transfers)
	s.mu.Unlock()
	var expected uint64

	for c := range s.completions {
		if c.err != nil {
			if s.onFatal != nil {
				s.onFatal(&TransferError{Kind: TransferNoDevice, cause: c.err})
			}
			continue
		}

		if numTransfers > 0 {
			if c.seq != expected {
				if s.stats != nil {
					s.stats.OutOfOrderCompletions++
				}
				if s.onPacketError != nil {
					s.onPacketError()
				}
			}
			expected = (c.seq + 1) % uint64(numTransfers)
		}

		packets := c.transfer.GetPackets()
		for i, slice := range c.transfer.GetIsoPacketBufferSlices() {
			if i < len(packets) && packets[i].Status != 0 {
				if s.onPacketError != nil {
					s.onPacketError()
				}
				continue
			}
			if len(slice) == 0 {
				continue
			}
			s.onPacket(slice)
		}
	}
}

// stop cancels every in-flight transfer, waits for all feeders to observe
// completion, releases bandwidth by returning to alt setting 0, and resets
// the device if resetOnStop is set (spec §4.4 Cancellation).
func (s *scheduler) stop(ifaceNum uint8, resetOnStop bool) error {
	s.mu.Lock()
	s.stopping = true
	transfers := append([]*usb.IsochronousTransfer(nil), s.transfers...)
	s.mu.Unlock()

	for _, t := range transfers {
		t.Cancel()
	}

	s.wg.Wait()
	close(s.completions)
	s.consumerWg.Wait()

	if err := s.handle.SetInterfaceAltSetting(ifaceNum, 0); err != nil {
		return err
	}
	if resetOnStop {
		return s.handle.ResetDevice()
	}
	return nil
}
