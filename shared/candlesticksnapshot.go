package shared

import (
	"errors"
	"sync"

	"go.uber.org/atomic"
)

// CandlestickSnapshot represents an append-only ring buffer of closed
// candlesticks for one market and timeframe.
type CandlestickSnapshot struct {
	data    []*Candlestick
	dataMtx sync.RWMutex
	start   atomic.Int32
	count   atomic.Int32
	size    atomic.Int32
}

// NewCandlestickSnapshot initializes a new candlestick snapshot.
func NewCandlestickSnapshot(size int32) (*CandlestickSnapshot, error) {
	if size <= 0 {
		return nil, errors.New("snapshot size must be positive")
	}

	snapshot := &CandlestickSnapshot{
		data: make([]*Candlestick, size),
	}

	snapshot.size.Store(size)
	return snapshot, nil
}

// Update adds the provided candlestick to the snapshot.
func (s *CandlestickSnapshot) Update(candle *Candlestick) {
	s.dataMtx.Lock()
	defer s.dataMtx.Unlock()

	start := s.start.Load()
	count := s.count.Load()
	size := s.size.Load()
	end := (start + count) % size
	s.data[end] = candle

	if count == size {
		// Overwrite the oldest entry when the snapshot is at capacity.
		s.start.Store((start + 1) % size)
	} else {
		s.count.Add(1)
	}
}

// Count returns the number of entries in the snapshot.
func (s *CandlestickSnapshot) Count() int32 {
	return s.count.Load()
}

// Last returns the last added entry for the snapshot.
func (s *CandlestickSnapshot) Last() *Candlestick {
	s.dataMtx.RLock()
	defer s.dataMtx.RUnlock()

	start := s.start.Load()
	count := s.count.Load()
	size := s.size.Load()
	if count == 0 {
		return nil
	}

	end := (start + count - 1) % size
	return s.data[end]
}

// LastN fetches the last n number of elements from the snapshot.
func (s *CandlestickSnapshot) LastN(n int32) []*Candlestick {
	s.dataMtx.RLock()
	defer s.dataMtx.RUnlock()

	if n <= 0 {
		return nil
	}

	start := s.start.Load()
	count := s.count.Load()
	size := s.size.Load()

	// Clamp the number of elements expected if it is greater than the snapshot count.
	if n > count {
		n = count
	}

	set := make([]*Candlestick, n)
	start = (start + count - n + size) % size

	for i := range n {
		idx := (start + i) % size
		set[i] = s.data[idx]
	}

	return set
}

// Closes returns the closes of the last n candles in the snapshot.
func (s *CandlestickSnapshot) Closes(n int32) []float64 {
	candles := s.LastN(n)
	closes := make([]float64, len(candles))
	for idx := range candles {
		closes[idx] = candles[idx].Close
	}

	return closes
}

// Highs returns the highs of the last n candles in the snapshot.
func (s *CandlestickSnapshot) Highs(n int32) []float64 {
	candles := s.LastN(n)
	highs := make([]float64, len(candles))
	for idx := range candles {
		highs[idx] = candles[idx].High
	}

	return highs
}

// Lows returns the lows of the last n candles in the snapshot.
func (s *CandlestickSnapshot) Lows(n int32) []float64 {
	candles := s.LastN(n)
	lows := make([]float64, len(candles))
	for idx := range candles {
		lows[idx] = candles[idx].Low
	}

	return lows
}
