package objectstore

// progressReader is handed to the copy as its progress sink. The client reads
// exactly size bytes from it as the copy advances; every read is counted and
// reported once per stride and again when the copy reaches size.
type progressReader struct {
	size   int64
	stride int64
	total  int64
	last   int64
	report ProgressFunc
}

func newProgressReader(size, stride int64, report ProgressFunc) *progressReader {
	return &progressReader{size: size, stride: stride, report: report}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n := len(b)
	p.total += int64(n)
	if p.total-p.last >= p.stride || (p.total >= p.size && p.last < p.size) {
		p.last = p.total
		p.report(p.total)
	}
	return n, nil
}
