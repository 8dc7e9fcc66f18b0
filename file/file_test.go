package file

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-fs/common"
)

func mkPipeFile() *File {
	rf, _ := MkPipe()
	return rf
}

func TestFdTableAllocLowest(t *testing.T) {
	assert := assert.New(t)
	ft := MkFdTable()

	fd0, err := ft.Alloc(mkPipeFile())
	assert.NoError(err)
	assert.Equal(0, fd0)
	fd1, err := ft.Alloc(mkPipeFile())
	assert.NoError(err)
	assert.Equal(1, fd1)

	assert.NoError(ft.Close(fd0))
	fd, err := ft.Alloc(mkPipeFile())
	assert.NoError(err)
	assert.Equal(0, fd, "freed handles are reused lowest-first")
}

func TestFdTableBadFd(t *testing.T) {
	assert := assert.New(t)
	ft := MkFdTable()

	_, err := ft.Get(0)
	assert.Equal(common.ErrBadFd, err)
	_, err = ft.Get(-1)
	assert.Equal(common.ErrBadFd, err)
	_, err = ft.Dup(3)
	assert.Equal(common.ErrBadFd, err)
	assert.Equal(common.ErrBadFd, ft.Close(int(common.NOFILE)))
}

func TestFdTableExhaustion(t *testing.T) {
	assert := assert.New(t)
	ft := MkFdTable()

	for i := uint64(0); i < common.NOFILE; i++ {
		_, err := ft.Alloc(mkPipeFile())
		assert.NoError(err)
	}
	_, err := ft.Alloc(mkPipeFile())
	assert.Equal(common.ErrTooManyFiles, err)
	_, err = ft.Dup(0)
	assert.Equal(common.ErrTooManyFiles, err)
}

func TestDupSharesObject(t *testing.T) {
	assert := assert.New(t)
	ft := MkFdTable()

	fd, err := ft.Alloc(mkPipeFile())
	require.NoError(t, err)
	fd2, err := ft.Dup(fd)
	require.NoError(t, err)

	f1, _ := ft.Get(fd)
	f2, _ := ft.Get(fd2)
	assert.True(f1 == f2, "dup must share the open-file object")

	assert.NoError(ft.Close(fd))
	assert.NoError(ft.Close(fd2))
}

func TestPipeEOF(t *testing.T) {
	assert := assert.New(t)
	rf, wf := MkPipe()

	n, err := wf.Write([]byte("abc"))
	assert.NoError(err)
	assert.Equal(uint64(3), n)
	wf.Close()

	buf := make([]byte, 8)
	n, err = rf.Read(buf)
	assert.NoError(err)
	assert.Equal("abc", string(buf[:n]))

	n, err = rf.Read(buf)
	assert.NoError(err)
	assert.Equal(uint64(0), n, "writer closed and drained means EOF")
	rf.Close()
}

func TestPipeBlocksWhenFull(t *testing.T) {
	assert := assert.New(t)
	rf, wf := MkPipe()

	big := make([]byte, pipeSize*3)
	for i := range big {
		big[i] = byte(i)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		n, err := wf.Write(big)
		assert.NoError(err)
		assert.Equal(uint64(len(big)), n)
		wf.Close()
	}()

	var got []byte
	buf := make([]byte, 64)
	for {
		n, err := rf.Read(buf)
		assert.NoError(err)
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}
	wg.Wait()
	assert.Equal(big, got)
	rf.Close()
}

func TestPipeWrongDirection(t *testing.T) {
	assert := assert.New(t)
	rf, wf := MkPipe()

	_, err := rf.Write([]byte("x"))
	assert.Equal(common.ErrBadFd, err)
	_, err = wf.Read(make([]byte, 1))
	assert.Equal(common.ErrBadFd, err)
	rf.Close()
	wf.Close()
}
