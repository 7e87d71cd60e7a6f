package litevna

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

// fakeDevice симулирует LiteVNA на уровне Transport: разбирает кадры команд,
// после очистки FIFO заполняет его данными развертки и отдает их по запросам 0x18.
type fakeDevice struct {
	mu sync.Mutex

	frames   [][]byte // все записанные кадры
	requests []int    // размеры запросов чтения FIFO
	sweep    []byte   // данные, появляющиеся в FIFO после очистки
	fifo     []byte
	pending  []byte

	variant  byte
	writeErr error
	readErr  error
	dropTail int // сколько байт последнего ответа задерживается до следующего чтения
	flushes  int
	closed   bool
}

func newFakeDevice(blocks []MeasurementBlock) *fakeDevice {
	d := &fakeDevice{variant: 2}
	for _, b := range blocks {
		d.sweep, _ = b.AppendBinary(d.sweep)
	}
	return d
}

func (d *fakeDevice) Write(p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("порт закрыт")
	}
	if d.writeErr != nil {
		return d.writeErr
	}
	d.frames = append(d.frames, bytes.Clone(p))
	if len(p) < 2 {
		return nil
	}
	switch p[0] {
	case opREADFIFO:
		n := int(p[2])
		d.requests = append(d.requests, n)
		n = min(n, len(d.fifo))
		d.pending = append(d.pending, d.fifo[:n]...)
		d.fifo = d.fifo[n:]
	case opREAD:
		if p[1] == addrDEVICE_VARIANT {
			d.pending = append(d.pending, d.variant)
		}
	case opWRITE:
		if p[1] == addrVALS_FIFO && len(p) == 3 && p[2] == 0 {
			d.fifo = bytes.Clone(d.sweep)
		}
	}
	return nil
}

func (d *fakeDevice) Read(n int, timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return nil, d.readErr
	}
	avail := len(d.pending)
	if len(d.fifo) == 0 && d.dropTail > 0 && avail > 0 {
		avail = max(0, avail-d.dropTail)
	}
	got := min(n, avail)
	out := bytes.Clone(d.pending[:got])
	d.pending = d.pending[got:]
	if got < n {
		return out, ErrTimeout
	}
	return out, nil
}

func (d *fakeDevice) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushes++
	d.pending = nil
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// registerWrites возвращает записанные кадры записи регистров в разобранном виде.
func (d *fakeDevice) registerWrites() []RegisterWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []RegisterWrite
	for _, f := range d.frames {
		if r, err := DecodeRegisterWrite(f); err == nil {
			out = append(out, r)
		}
	}
	return out
}

// syntheticSweep строит блоки с fwd0=(1000,0), rev0=(500,0), freqIndex=i.
func syntheticSweep(points int) []MeasurementBlock {
	blocks := make([]MeasurementBlock, points)
	for i := range blocks {
		blocks[i] = MeasurementBlock{Fwd0Re: 1000, Rev0Re: 500, FreqIndex: uint16(i)}
	}
	return blocks
}
