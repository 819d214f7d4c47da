package monitoring

import "github.com/shopspring/decimal"

// Buffer is a fixed-size ring of utilization values. Once full, each Add
// overwrites the oldest value.
type Buffer struct {
	Buffer    []decimal.Decimal
	NextIndex int64
	Max       int64
}

func NewBuffer(size int64) *Buffer {
	p := new(Buffer)
	p.Max = size
	p.NextIndex = 0
	p.Buffer = make([]decimal.Decimal, size)
	return p
}

func (b *Buffer) Add(value decimal.Decimal) {
	b.Buffer[b.NextIndex%b.Max] = value
	b.NextIndex++
}

// Len returns the number of values currently held.
func (b *Buffer) Len() int {
	if b.NextIndex >= b.Max {
		return int(b.Max)
	}
	return int(b.NextIndex)
}

// Average returns the mean of the held values, or zero for an empty buffer.
func (b *Buffer) Average() decimal.Decimal {
	n := b.Len()
	if n == 0 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, value := range b.Buffer[:n] {
		sum = sum.Add(value)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

// LastAverage returns the mean of the last values added. It falls back to
// Average when fewer values are held.
func (b *Buffer) LastAverage(last int) decimal.Decimal {
	if !b.HasLast(last) || last == 0 {
		return b.Average()
	}

	sum := decimal.Zero
	for _, value := range b.Last(last) {
		sum = sum.Add(value)
	}
	return sum.Div(decimal.NewFromInt(int64(last)))
}

func (b *Buffer) Last(last int) []decimal.Decimal {
	if !b.HasLast(last) {
		// give a empty slice if data is not ready
		return []decimal.Decimal{}
	}
	p := make([]decimal.Decimal, last)
	fromIndex := b.NextIndex - int64(last)
	for i := fromIndex; i < fromIndex+int64(last); i++ {
		p[i-fromIndex] = b.Buffer[int(i%b.Max)]
	}

	return p
}

func (b *Buffer) HasLast(last int) bool {
	return last >= 0 && b.NextIndex >= int64(last) && int64(last) <= b.Max
}
