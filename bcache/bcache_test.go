package bcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-fs/common"
)

func fill(b *Buf, v byte) {
	for i := range b.Data {
		b.Data[i] = v
	}
}

func TestReadThrough(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(100)
	blk := make(disk.Block, disk.BlockSize)
	blk[0] = 7
	d.Write(5, blk)

	bc := MkBcache(d, 10)
	b := bc.Bread(5)
	assert.Equal(byte(7), b.Data[0])
	bc.Brelse(b)
}

func TestWriteThrough(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(100)
	bc := MkBcache(d, 10)

	b := bc.Bget(5)
	fill(b, 3)
	b.SetValid()
	bc.Bwrite(b)
	bc.Brelse(b)

	assert.Equal(byte(3), d.Read(5)[0], "Bwrite must reach the disk")

	// a fresh cache sees the written data
	bc2 := MkBcache(d, 10)
	b2 := bc2.Bread(5)
	assert.Equal(byte(3), b2.Data[0])
	bc2.Brelse(b2)
}

func TestOneEntryPerBlock(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(100)
	bc := MkBcache(d, 10)

	b := bc.Bread(5)
	bc.Brelse(b)
	b2 := bc.Bread(5)
	assert.True(b == b2, "same block must reuse the same entry")
	bc.Brelse(b2)
}

func TestLRUEviction(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(100)
	bc := MkBcache(d, 2)

	b5 := bc.Bread(5)
	bc.Brelse(b5)
	b6 := bc.Bread(6)
	bc.Brelse(b6)

	// block 5 is least recently used, so 7 takes its entry
	b7 := bc.Bread(7)
	assert.True(b7 == b5, "expected the LRU entry to be repurposed")
	assert.Equal(common.Bnum(7), b7.Blkno)
	bc.Brelse(b7)

	b6again := bc.Bread(6)
	assert.True(b6again == b6, "block 6 should still be cached")
	bc.Brelse(b6again)
}

func TestRefPreventsEviction(t *testing.T) {
	d := disk.NewMemDisk(100)
	bc := MkBcache(d, 1)

	bc.Bread(5) // held: no Brelse
	require.Panics(t, func() {
		bc.Bget(6)
	}, "the only entry is referenced, so Bget must fail")
}

func TestPinPreventsEviction(t *testing.T) {
	d := disk.NewMemDisk(100)
	bc := MkBcache(d, 1)

	b := bc.Bread(5)
	bc.Pin(b)
	bc.Brelse(b)
	require.Panics(t, func() {
		bc.Bget(6)
	}, "a pinned entry must not be repurposed")
}

func TestUnpinAllowsEviction(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(100)
	bc := MkBcache(d, 1)

	b := bc.Bread(5)
	bc.Pin(b)
	bc.Brelse(b)
	bc.Unpin(b)

	b6 := bc.Bget(6)
	assert.Equal(common.Bnum(6), b6.Blkno)
	bc.Brelse(b6)
}

func TestBlockZeroEvicts(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(100)
	bc := MkBcache(d, 1)

	b0 := bc.Bread(0)
	bc.Brelse(b0)

	// repurposing the entry that holds block 0 must unkey it
	b6 := bc.Bread(6)
	assert.Equal(common.Bnum(6), b6.Blkno)
	bc.Brelse(b6)

	b0again := bc.Bread(0)
	assert.Equal(common.Bnum(0), b0again.Blkno)
	assert.True(b0again == b6, "the one entry serves block 0 again")
	bc.Brelse(b0again)
}

func TestEvictedBlockRereads(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(100)
	bc := MkBcache(d, 1)

	b := bc.Bget(5)
	fill(b, 9)
	b.SetValid()
	bc.Bwrite(b)
	bc.Brelse(b)

	// evict 5, then read it back through the disk
	b6 := bc.Bread(6)
	bc.Brelse(b6)
	b5 := bc.Bread(5)
	assert.Equal(byte(9), b5.Data[0])
	bc.Brelse(b5)
}
