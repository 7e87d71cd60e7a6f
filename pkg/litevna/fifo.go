package litevna

import (
	"errors"
	"fmt"
	"time"
)

// ClearFIFO сбрасывает накопленные в FIFO значения предыдущей развертки.
// Без этого чтение вернет устаревшие данные, протокольной ошибки при этом не будет.
func ClearFIFO(t Transport, address byte) error {
	if err := t.Write(EncodeFIFOClear(address)); err != nil {
		return fmt.Errorf("ошибка очистки FIFO 0x%02x: %w", address, wrapTransport("write", err))
	}
	return nil
}

// ReadFIFO читает total байт из FIFO порциями не более MaxFIFOChunk.
// Каждая порция - запрос и блокирующее чтение ровно этого числа байт.
// Порция, недочитанная к таймауту, возвращается как *ShortReadError, буфер не дополняется.
// Прочие ошибки чтения возвращаются как *TransportError.
func ReadFIFO(t Transport, address byte, total int, timeout time.Duration) ([]byte, error) {
	if total <= 0 {
		return []byte{}, nil
	}
	buf := make([]byte, 0, total)
	for remaining := total; remaining > 0; {
		chunk := min(remaining, MaxFIFOChunk)
		req, err := EncodeFIFOReadRequest(address, chunk)
		if err != nil {
			return nil, err
		}
		if err := t.Write(req); err != nil {
			return nil, fmt.Errorf("ошибка запроса FIFO: %w", wrapTransport("write", err))
		}
		data, err := t.Read(chunk, timeout)
		if err != nil && !errors.Is(err, ErrTimeout) {
			return nil, wrapTransport("read", err)
		}
		if len(data) < chunk {
			short := &ShortReadError{Offset: len(buf), Want: chunk, Got: len(data)}
			if err != nil {
				return nil, fmt.Errorf("%w: %w", short, wrapTransport("read", err))
			}
			return nil, short
		}
		buf = append(buf, data[:chunk]...)
		remaining -= chunk
	}
	return buf, nil
}
