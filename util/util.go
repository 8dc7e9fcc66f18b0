package util

import (
	"log"
	"os"
	"strconv"
)

var debug uint64 = 0

func init() {
	if s := os.Getenv("FS_DEBUG"); s != "" {
		if lvl, err := strconv.ParseUint(s, 10, 64); err == nil {
			debug = lvl
		}
	}
}

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= debug {
		log.Printf(format, a...)
	}
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	}
	return m
}
