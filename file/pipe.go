package file

import (
	"sync"

	"github.com/mit-pdos/go-fs/common"
)

const pipeSize uint64 = 512

// Pipe is an in-memory ring buffer connecting a read end and a write
// end. Reads block while the buffer is empty and the write end is
// open; writes block while the buffer is full and the read end is
// open.
type Pipe struct {
	mu        *sync.Mutex
	cond      *sync.Cond
	data      [pipeSize]byte
	nread     uint64
	nwrite    uint64
	readopen  bool
	writeopen bool
}

// MkPipe returns the read end and the write end of a fresh pipe.
func MkPipe() (*File, *File) {
	mu := new(sync.Mutex)
	p := &Pipe{
		mu:        mu,
		cond:      sync.NewCond(mu),
		readopen:  true,
		writeopen: true,
	}
	return newFilePipe(p, true), newFilePipe(p, false)
}

func (p *Pipe) write(src []byte) (uint64, error) {
	p.mu.Lock()
	var tot uint64 = 0
	n := uint64(len(src))
	for tot < n {
		if !p.readopen {
			p.mu.Unlock()
			return tot, common.ErrPipeClosed
		}
		if p.nwrite == p.nread+pipeSize {
			p.cond.Broadcast()
			p.cond.Wait()
			continue
		}
		p.data[p.nwrite%pipeSize] = src[tot]
		p.nwrite += 1
		tot += 1
	}
	p.cond.Broadcast()
	p.mu.Unlock()
	return tot, nil
}

func (p *Pipe) read(dst []byte) (uint64, error) {
	p.mu.Lock()
	for p.nread == p.nwrite && p.writeopen {
		p.cond.Wait()
	}
	var tot uint64 = 0
	n := uint64(len(dst))
	for tot < n && p.nread != p.nwrite {
		dst[tot] = p.data[p.nread%pipeSize]
		p.nread += 1
		tot += 1
	}
	p.cond.Broadcast()
	p.mu.Unlock()
	return tot, nil
}

func (p *Pipe) close(writeEnd bool) {
	p.mu.Lock()
	if writeEnd {
		p.writeopen = false
	} else {
		p.readopen = false
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}
