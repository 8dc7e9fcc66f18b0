package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-fs/bcache"
	"github.com/mit-pdos/go-fs/common"
	"github.com/mit-pdos/go-fs/super"
	"github.com/mit-pdos/go-fs/wal"
)

type env struct {
	d  disk.Disk
	fs *super.FsSuper
	bc *bcache.Bcache
	l  *wal.Walog
	a  *Alloc
}

func mkEnv(sz uint64) *env {
	d := disk.NewMemDisk(sz)
	fs := super.Format(d, 32)
	bc := bcache.MkBcache(d, 100)
	l := wal.MkLog(fs, bc)
	return &env{d: d, fs: fs, bc: bc, l: l, a: MkAlloc(fs, l, bc)}
}

func TestAllocFromDataRegion(t *testing.T) {
	assert := assert.New(t)
	e := mkEnv(1000)

	e.l.Begin()
	bn, err := e.a.BAlloc()
	assert.NoError(err)
	assert.GreaterOrEqual(bn, e.fs.DataStart(),
		"metadata blocks must never be handed out")
	assert.Less(bn, e.fs.Size)
	e.l.End()
}

func TestAllocDistinct(t *testing.T) {
	assert := assert.New(t)
	e := mkEnv(1000)

	e.l.Begin()
	bn1, err := e.a.BAlloc()
	assert.NoError(err)
	bn2, err := e.a.BAlloc()
	assert.NoError(err)
	assert.NotEqual(bn1, bn2)
	e.l.End()
}

func TestFreeMakesReusable(t *testing.T) {
	assert := assert.New(t)
	e := mkEnv(1000)

	e.l.Begin()
	bn, err := e.a.BAlloc()
	assert.NoError(err)
	e.a.BFree(bn)
	again, err := e.a.BAlloc()
	assert.NoError(err)
	assert.Equal(bn, again, "first-fit should return the freed block")
	e.l.End()
}

func TestAllocZeroes(t *testing.T) {
	assert := assert.New(t)
	e := mkEnv(1000)

	// learn which block first-fit returns, then dirty it on disk
	e.l.Begin()
	bn, err := e.a.BAlloc()
	assert.NoError(err)
	e.a.BFree(bn)
	e.l.End()

	junk := make(disk.Block, disk.BlockSize)
	for i := range junk {
		junk[i] = 0xff
	}
	e.d.Write(bn, junk)
	e.bc = bcache.MkBcache(e.d, 100)
	e.l = wal.MkLog(e.fs, e.bc)
	e.a = MkAlloc(e.fs, e.l, e.bc)

	e.l.Begin()
	again, err := e.a.BAlloc()
	assert.NoError(err)
	assert.Equal(bn, again)
	e.l.End()

	assert.Equal(make(disk.Block, disk.BlockSize), e.d.Read(bn),
		"allocation must commit the block zeroed")
}

func TestExhaustion(t *testing.T) {
	assert := assert.New(t)
	e := mkEnv(1000)
	nData := e.fs.Size - e.fs.DataStart()

	// drain the data region a few blocks per transaction to stay
	// inside the per-operation log budget
	for i := uint64(0); i < nData; i++ {
		e.l.Begin()
		_, err := e.a.BAlloc()
		assert.NoError(err)
		e.l.End()
	}
	e.l.Begin()
	_, err := e.a.BAlloc()
	assert.Equal(common.ErrNoSpace, err)
	e.l.End()
}

func TestDoubleFreePanics(t *testing.T) {
	e := mkEnv(1000)

	e.l.Begin()
	bn, err := e.a.BAlloc()
	require.NoError(t, err)
	e.a.BFree(bn)
	// the second free dies holding the bitmap buffer, so the
	// transaction is never finished
	require.Panics(t, func() {
		e.a.BFree(bn)
	})
}

func TestFreeMetadataPanics(t *testing.T) {
	e := mkEnv(1000)

	e.l.Begin()
	require.Panics(t, func() {
		e.a.BFree(e.fs.LogHdr())
	})
	e.l.End()
}
