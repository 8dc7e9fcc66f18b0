package wal

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-fs/bcache"
	"github.com/mit-pdos/go-fs/common"
	"github.com/mit-pdos/go-fs/super"
)

type WalSuite struct {
	suite.Suite
	d  disk.Disk
	fs *super.FsSuper
	bc *bcache.Bcache
	l  *Walog
}

func (suite *WalSuite) SetupTest() {
	suite.d = disk.NewMemDisk(1000)
	suite.fs = super.Format(suite.d, 32)
	suite.bc = bcache.MkBcache(suite.d, 100)
	suite.l = MkLog(suite.fs, suite.bc)
}

// restart throws away all in-memory state and remounts the log over
// the same disk, as after a crash.
func (suite *WalSuite) restart() {
	suite.bc = bcache.MkBcache(suite.d, 100)
	suite.l = MkLog(suite.fs, suite.bc)
}

func TestWal(t *testing.T) {
	suite.Run(t, new(WalSuite))
}

func mkBlock(v byte) disk.Block {
	block := make(disk.Block, disk.BlockSize)
	for i := range block {
		block[i] = v
	}
	return block
}

var block0 = mkBlock(0)
var block1 = mkBlock(1)
var block2 = mkBlock(2)

// put overwrites bn with a block full of v inside the current
// transaction.
func (suite *WalSuite) put(bn common.Bnum, v byte) {
	b := suite.bc.Bget(bn)
	copy(b.Data, mkBlock(v))
	b.SetValid()
	suite.l.Write(b)
	suite.bc.Brelse(b)
}

// onDisk bypasses the cache.
func (suite *WalSuite) onDisk(bn common.Bnum) disk.Block {
	return suite.d.Read(bn)
}

func (suite *WalSuite) data(i uint64) common.Bnum {
	return suite.fs.DataStart() + i
}

func (suite *WalSuite) TestCommitWritesHome() {
	suite.l.Begin()
	suite.put(suite.data(0), 1)
	suite.put(suite.data(1), 2)
	suite.l.End()
	suite.Equal(block1, suite.onDisk(suite.data(0)))
	suite.Equal(block2, suite.onDisk(suite.data(1)))
}

func (suite *WalSuite) TestEmptyTxn() {
	suite.l.Begin()
	suite.l.End()
	suite.Equal(block0, suite.onDisk(suite.data(0)))
}

func (suite *WalSuite) TestAbsorption() {
	suite.l.Begin()
	suite.put(suite.data(3), 1)
	suite.put(suite.data(3), 2)
	suite.Equal(1, len(suite.l.queued), "rewrite should not take a new slot")
	suite.l.End()
	suite.Equal(block2, suite.onDisk(suite.data(3)),
		"the last write should win")
}

func (suite *WalSuite) TestCrashBeforeHeader() {
	suite.l.Begin()
	suite.put(suite.data(0), 1)
	suite.l.writeLog()
	// crash: the header was never written, so the transaction is gone
	suite.restart()
	suite.Equal(block0, suite.onDisk(suite.data(0)))
}

func (suite *WalSuite) TestCrashAfterHeader() {
	suite.l.Begin()
	suite.put(suite.data(0), 1)
	suite.put(suite.data(1), 2)
	suite.l.writeLog()
	suite.l.writeHead(suite.l.queued)
	// crash: committed but not installed; recovery must replay
	suite.restart()
	suite.Equal(block1, suite.onDisk(suite.data(0)))
	suite.Equal(block2, suite.onDisk(suite.data(1)))
}

func (suite *WalSuite) TestRecoverTwice() {
	suite.l.Begin()
	suite.put(suite.data(0), 1)
	suite.l.writeLog()
	suite.l.writeHead(suite.l.queued)
	suite.restart()
	// a second crash during install replays the same transaction
	suite.restart()
	suite.Equal(block1, suite.onDisk(suite.data(0)))
}

func (suite *WalSuite) TestGroupCommit() {
	suite.l.Begin()
	suite.l.Begin()
	suite.put(suite.data(0), 1)
	suite.l.End()
	suite.Equal(block0, suite.onDisk(suite.data(0)),
		"commit must wait for the whole epoch")
	suite.put(suite.data(1), 2)
	suite.l.End()
	suite.Equal(block1, suite.onDisk(suite.data(0)))
	suite.Equal(block2, suite.onDisk(suite.data(1)))
}

func (suite *WalSuite) TestConcurrentOps() {
	var wg sync.WaitGroup
	for i := uint64(0); i < 8; i++ {
		wg.Add(1)
		go func(i uint64) {
			defer wg.Done()
			suite.l.Begin()
			suite.put(suite.data(i), byte(i+1))
			suite.l.End()
		}(i)
	}
	wg.Wait()
	suite.l.Flush()
	for i := uint64(0); i < 8; i++ {
		suite.Equal(mkBlock(byte(i+1)), suite.onDisk(suite.data(i)))
	}
}

func (suite *WalSuite) TestWriteOutsideTxnPanics() {
	b := suite.bc.Bget(suite.data(0))
	b.SetValid()
	defer suite.bc.Brelse(b)
	suite.Panics(func() {
		suite.l.Write(b)
	})
}

func (suite *WalSuite) TestFlushIdle() {
	suite.l.Begin()
	suite.put(suite.data(0), 1)
	suite.l.End()
	suite.l.Flush()
	suite.Equal(0, len(suite.l.queued))
}
