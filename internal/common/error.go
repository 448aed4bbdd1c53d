package common

import "fmt"

var (
	ErrNoParityFile     = fmt.Errorf("no parity file")
	ErrNotSupported     = fmt.Errorf("not supported")
	ErrUnknownCodec     = fmt.Errorf("unknown codec")
	ErrUnknownNodeClass = fmt.Errorf("unknown node class")
	ErrFileNotFound     = fmt.Errorf("file not found")
)
