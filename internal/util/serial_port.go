// Package util содержит вспомогательные утилиты, не являющиеся частью публичного API.
package util

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaudRate - скорость порта LiteVNA по умолчанию.
const DefaultBaudRate = 115200

// SerialPortInterface определяет интерфейс для работы с последовательным портом.
// Это позволяет нам использовать реальный порт в production и мок-объект в тестах.
type SerialPortInterface interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// realPort - это обертка над реальной реализацией последовательного порта.
type realPort struct {
	port serial.Port
}

func (r *realPort) Read(p []byte) (n int, err error)     { return r.port.Read(p) }
func (r *realPort) Write(p []byte) (n int, err error)    { return r.port.Write(p) }
func (r *realPort) Close() error                         { return r.port.Close() }
func (r *realPort) SetReadTimeout(t time.Duration) error { return r.port.SetReadTimeout(t) }
func (r *realPort) ResetInputBuffer() error              { return r.port.ResetInputBuffer() }

// OpenPort открывает реальный последовательный порт в режиме 8N1.
// baud <= 0 заменяется на DefaultBaudRate.
func OpenPort(path string, baud int) (SerialPortInterface, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	// Сбрасываем мусор, оставшийся в буферах от предыдущего сеанса.
	_ = p.ResetInputBuffer()
	return &realPort{port: p}, nil
}

// PortInfo описывает найденный в системе последовательный порт.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	return fmt.Sprintf("%s [%s:%s] %s %s", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
}

// ListPorts возвращает список доступных последовательных портов.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("ошибка перечисления портов: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return ports, nil
}
