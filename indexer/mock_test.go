package indexer

import (
	"github.com/stretchr/testify/mock"
)

type CursorReaderMock struct {
	mock.Mock
	ReadCursorFn func() (*Point, error)
}

// ReadCursor implements CursorReader.
func (m *CursorReaderMock) ReadCursor() (*Point, error) {
	args := m.Called()

	if m.ReadCursorFn != nil {
		return m.ReadCursorFn()
	}

	return args.Get(0).(*Point), args.Error(1) //nolint:forcetypeassert
}

var _ CursorReader = (*CursorReaderMock)(nil)
