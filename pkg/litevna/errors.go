package litevna

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedWidth - ширина регистра не входит в {1, 2, 4, 8}. Ошибка программиста, не повторяется.
	ErrUnsupportedWidth = errors.New("неподдерживаемая ширина регистра")
	// ErrInvalidChunk - размер одного запроса чтения FIFO вне диапазона 1..255.
	ErrInvalidChunk = errors.New("недопустимый размер порции чтения FIFO")
	// ErrShortRead - устройство вернуло меньше байт, чем запрошено, до истечения таймаута.
	ErrShortRead = errors.New("неполное чтение из FIFO")
	// ErrLengthMismatch - длина буфера развертки не равна 32 * points.
	ErrLengthMismatch = errors.New("длина буфера не совпадает с числом точек")
	// ErrInvalidBlockLength - блок измерения не равен 32 байтам.
	ErrInvalidBlockLength = errors.New("некорректная длина блока измерения")
	// ErrInvalidSweep - некорректные параметры развертки.
	ErrInvalidSweep = errors.New("некорректные параметры развертки")
)

// TransportError оборачивает любую ошибку ввода-вывода транспорта.
// Ядро никогда не повторяет операции само, ошибка всегда уходит вызывающему.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ошибка транспорта (%s): %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ShortReadError несет подробности неполного чтения.
type ShortReadError struct {
	Offset int // смещение порции в собираемом буфере
	Want   int
	Got    int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("%v: смещение %d, ожидалось %d байт, получено %d", ErrShortRead, e.Offset, e.Want, e.Got)
}

func (e *ShortReadError) Is(target error) bool { return target == ErrShortRead }

// Retryable сообщает, может ли цикл сеанса повторить весь цикл
// настройка-очистка-чтение после такой ошибки.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, ErrShortRead) || errors.Is(err, ErrLengthMismatch)
}

func wrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
