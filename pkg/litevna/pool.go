package litevna

import (
	"fmt"
	"sync"

	"github.com/momentics/litevna/internal/util"
)

// PortOpener открывает последовательный порт. Подменяется в тестах.
type PortOpener func(path string, baud int) (util.SerialPortInterface, error)

// VNAPool хранит по одному VNA на порт: у каждого канала должен быть один владелец.
type VNAPool struct {
	devices map[string]*VNA
	mu      sync.RWMutex

	baud int
	opts Options
	open PortOpener
}

// NewVNAPool создает пул. open == nil означает реальный последовательный порт.
func NewVNAPool(baud int, opts Options, open PortOpener) *VNAPool {
	if open == nil {
		open = util.OpenPort
	}
	return &VNAPool{devices: make(map[string]*VNA), baud: baud, opts: opts, open: open}
}

func (p *VNAPool) Get(portPath string) (*VNA, error) {
	p.mu.RLock()
	if vna, exists := p.devices[portPath]; exists {
		p.mu.RUnlock()
		return vna, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if vna, exists := p.devices[portPath]; exists {
		return vna, nil
	}

	port, err := p.open(portPath, p.baud)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия порта %s: %w", portPath, wrapTransport("open", err))
	}

	newVNA := NewVNA(NewSerialTransport(port), p.opts)
	if err := newVNA.Reset(); err != nil {
		newVNA.Close()
		return nil, fmt.Errorf("ошибка сброса протокола на %s: %w", portPath, err)
	}
	p.devices[portPath] = newVNA
	return newVNA, nil
}

// Drop закрывает и забывает устройство; следующий Get переподключится.
func (p *VNAPool) Drop(portPath string) error {
	p.mu.Lock()
	vna, exists := p.devices[portPath]
	delete(p.devices, portPath)
	p.mu.Unlock()
	if !exists {
		return nil
	}
	return vna.Close()
}

func (p *VNAPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for path, vna := range p.devices {
		vna.Close()
		delete(p.devices, path)
	}
}

// ListPorts перечисляет последовательные порты системы.
func ListPorts() ([]util.PortInfo, error) {
	return util.ListPorts()
}
