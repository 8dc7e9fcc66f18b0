// fsutil is a small command line interface to a file-system image:
// format an image, list a directory, and copy files in and out.
package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/tchajed/goose/machine/disk"
	"github.com/urfave/cli/v2"

	"github.com/mit-pdos/go-fs/common"
	"github.com/mit-pdos/go-fs/dir"
	"github.com/mit-pdos/go-fs/fs"
)

// Config carries the image defaults; each field can be overridden with
// an FSUTIL_-prefixed environment variable.
type Config struct {
	Image   string `default:"fs.img"`
	Size    uint64 `default:"10000"`
	NInodes uint64 `default:"1024"`
}

func (cfg *Config) open() (*fs.FileSystem, error) {
	d, err := disk.NewFileDisk(cfg.Image, cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", cfg.Image, err)
	}
	return fs.Mount(d, nil)
}

func main() {
	var cfg Config
	if err := envconfig.Process("fsutil", &cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	app := cli.App{
		Name:  "fsutil",
		Usage: "inspect and modify a file-system image",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "image",
				Usage:       "path to the disk image",
				Value:       cfg.Image,
				Destination: &cfg.Image,
			},
			&cli.Uint64Flag{
				Name:        "size",
				Usage:       "image size in blocks",
				Value:       cfg.Size,
				Destination: &cfg.Size,
			},
		},
		Commands: []*cli.Command{{
			Name:  "mkfs",
			Usage: "format the image with an empty root directory",
			Flags: []cli.Flag{
				&cli.Uint64Flag{
					Name:        "ninodes",
					Usage:       "number of inodes",
					Value:       cfg.NInodes,
					Destination: &cfg.NInodes,
				},
			},
			Action: func(c *cli.Context) error {
				d, err := disk.NewFileDisk(cfg.Image, cfg.Size)
				if err != nil {
					return err
				}
				fs.Mkfs(d, cfg.NInodes)
				return nil
			},
		}, {
			Name:      "ls",
			Usage:     "list a directory",
			ArgsUsage: "[PATH]",
			Action: func(c *cli.Context) error {
				pth := c.Args().First()
				if pth == "" {
					pth = "/"
				}
				return ls(&cfg, pth)
			},
		}, {
			Name:      "cat",
			Usage:     "write a file's contents to stdout",
			ArgsUsage: "PATH",
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return fmt.Errorf("cat: expected one path")
				}
				return cat(&cfg, c.Args().First())
			},
		}, {
			Name:      "put",
			Usage:     "copy a local file into the image",
			ArgsUsage: "LOCAL PATH",
			Action: func(c *cli.Context) error {
				if c.NArg() != 2 {
					return fmt.Errorf("put: expected local file and path")
				}
				return put(&cfg, c.Args().Get(0), c.Args().Get(1))
			},
		}, {
			Name:      "stat",
			Usage:     "print a file's metadata",
			ArgsUsage: "PATH",
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return fmt.Errorf("stat: expected one path")
				}
				return stat(&cfg, c.Args().First())
			},
		}},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func ls(cfg *Config, pth string) error {
	fsys, err := cfg.open()
	if err != nil {
		return err
	}
	fd, err := fsys.Open(pth, fs.O_RDONLY)
	if err != nil {
		return err
	}
	defer fsys.Close(fd)
	st, err := fsys.Stat(fd)
	if err != nil {
		return err
	}
	if st.Type != common.TDIR {
		return common.ErrNotDir
	}
	rec := make([]byte, common.DIRENTSZ)
	for {
		n, err := fsys.Read(fd, rec)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		de := dir.DecodeDirent(rec)
		if de.Inum == common.NULLINUM {
			continue
		}
		fmt.Printf("%-24s %d\n", de.Name, de.Inum)
	}
}

func cat(cfg *Config, pth string) error {
	fsys, err := cfg.open()
	if err != nil {
		return err
	}
	fd, err := fsys.Open(pth, fs.O_RDONLY)
	if err != nil {
		return err
	}
	defer fsys.Close(fd)
	buf := make([]byte, disk.BlockSize)
	for {
		n, err := fsys.Read(fd, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := os.Stdout.Write(buf[:n]); err != nil {
			return err
		}
	}
}

func put(cfg *Config, local string, pth string) error {
	data, err := ioutil.ReadFile(local)
	if err != nil {
		return err
	}
	fsys, err := cfg.open()
	if err != nil {
		return err
	}
	fd, err := fsys.Open(pth, fs.O_WRONLY|fs.O_CREATE)
	if err != nil {
		return err
	}
	defer fsys.Close(fd)
	if _, err := fsys.Write(fd, data); err != nil {
		return err
	}
	fsys.Sync()
	return nil
}

func stat(cfg *Config, pth string) error {
	fsys, err := cfg.open()
	if err != nil {
		return err
	}
	fd, err := fsys.Open(pth, fs.O_RDONLY)
	if err != nil {
		return err
	}
	defer fsys.Close(fd)
	st, err := fsys.Stat(fd)
	if err != nil {
		return err
	}
	fmt.Printf("inum %d type %d nlink %d size %d\n",
		st.Inum, st.Type, st.Nlink, st.Size)
	return nil
}
