package litevna

import (
	"errors"
	"fmt"
	"time"

	"github.com/momentics/litevna/internal/util"
)

// Transport - дуплексный байтовый канал до прибора.
// Read блокируется, пока не получит ровно n байт или не истечет timeout;
// при таймауте возвращает уже принятые байты вместе с ошибкой.
// Flush отбрасывает принятые, но не прочитанные байты.
type Transport interface {
	Write(p []byte) error
	Read(n int, timeout time.Duration) ([]byte, error)
	Flush() error
	Close() error
}

// ErrTimeout возвращается транспортом, если данные не пришли за отведенное время.
var ErrTimeout = errors.New("таймаут чтения")

// serialTransport реализует Transport поверх последовательного порта.
type serialTransport struct {
	port util.SerialPortInterface
}

// NewSerialTransport оборачивает последовательный порт в Transport.
func NewSerialTransport(port util.SerialPortInterface) Transport {
	return &serialTransport{port: port}
}

func (s *serialTransport) Write(p []byte) error {
	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			return wrapTransport("write", err)
		}
		if n == 0 {
			return wrapTransport("write", errors.New("порт не принял данные"))
		}
		p = p[n:]
	}
	return nil
}

// Read дочитывает ровно n байт. go.bug.st/serial при истечении таймаута
// возвращает (0, nil), поэтому отсутствие данных считается таймаутом.
func (s *serialTransport) Read(n int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	deadline := time.Now().Add(timeout)
	got := 0
	for got < n {
		left := time.Until(deadline)
		if left <= 0 {
			return buf[:got], wrapTransport("read", fmt.Errorf("%w: получено %d из %d байт", ErrTimeout, got, n))
		}
		if err := s.port.SetReadTimeout(left); err != nil {
			return buf[:got], wrapTransport("read", err)
		}
		m, err := s.port.Read(buf[got:])
		got += m
		if err != nil {
			return buf[:got], wrapTransport("read", err)
		}
		if m == 0 {
			return buf[:got], wrapTransport("read", fmt.Errorf("%w: получено %d из %d байт", ErrTimeout, got, n))
		}
	}
	return buf, nil
}

func (s *serialTransport) Flush() error {
	return wrapTransport("flush", s.port.ResetInputBuffer())
}

func (s *serialTransport) Close() error { return s.port.Close() }
