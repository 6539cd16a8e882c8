// Command ncctl is the debug admin console (§6): an interactive,
// line-edited shell that drives the Name Service, RMem and SysV daemons
// over the native mailbox/portal protocol, in the teacher's
// cmd/minimega/pkg-miniclient idiom (peterh/liner prompt, one line one
// command, Ctrl-D to exit). Its "cache.*" commands exercise an RCache
// layered in front of the RMem stub, rather than talking RMem directly.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/noc-os/ncruntime/internal/namestub"
	"github.com/noc-os/ncruntime/internal/rcache"
	"github.com/noc-os/ncruntime/internal/rmemstub"
	"github.com/noc-os/ncruntime/internal/sysvstub"
	"github.com/noc-os/ncruntime/internal/topology"
	"github.com/noc-os/ncruntime/internal/transport"
	log "github.com/noc-os/ncruntime/pkg/minilog"
	"github.com/noc-os/ncruntime/pkg/ncpid"
	"github.com/noc-os/ncruntime/pkg/ncproto"
)

var (
	f_node   = flag.Int("node", 63, "node number this console identifies itself as")
	f_spawn0 = flag.String("spawn0", "127.0.0.1:9100", "address of spawn0d (Name Service + SysV)")
	f_spawn1 = flag.String("spawn1", "127.0.0.1:9200", "address of spawn1d (RMem)")
	f_level  = flag.String("level", "warn", "log level: debug, info, warn, error, fatal")
)

func usage() {
	fmt.Println("ncctl: interactive admin console for the NoC runtime daemons")
	flag.PrintDefaults()
}

var commands = []string{
	"setpid", "link", "unlink", "lookup", "lookup2", "heartbeat", "getpgid", "setpgid", "groupmembers",
	"rmem.alloc", "rmem.free", "rmem.write", "rmem.read", "rmem.stats",
	"cache.policy", "cache.get", "cache.put", "cache.flush", "cache.flushall",
	"shm.create", "shm.open", "shm.close", "shm.unlink", "shm.ftruncate", "shm.inval",
	"msg.get", "msg.close", "msg.send", "msg.recv",
	"sem.get", "sem.close", "sem.op",
	"help", "quit",
}

func suggest(line string) []string {
	var out []string
	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

func main() {
	flag.Usage = usage
	flag.Parse()

	level, err := log.ParseLevel(*f_level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.AddLogger("stderr", os.Stderr, level, true)

	sub := transport.New(ncproto.NodeNum(*f_node), 5*time.Second)
	if err := sub.Dial(topology.NameServiceNode, *f_spawn0); err != nil {
		log.Fatal("dial spawn0d at %s: %v", *f_spawn0, err)
	}
	if err := sub.Dial(topology.RMemNode, *f_spawn1); err != nil {
		log.Fatal("dial spawn1d at %s: %v", *f_spawn1, err)
	}

	name, err := namestub.New(sub)
	if err != nil {
		log.Fatal("namestub: %v", err)
	}
	rmem := rmemstub.New(sub)
	cache := rcache.New(rmem, rcache.NewLRUPolicy(32))

	pid, err := name.Setpid()
	if err != nil {
		log.Fatal("setpid: %v", err)
	}
	sysv, err := sysvstub.New(sub, pid)
	if err != nil {
		log.Fatal("sysvstub: %v", err)
	}

	fmt.Printf("ncctl: registered as pid %d (node %d)\n", pid, *f_node)
	fmt.Println("type 'help' for a command list, Ctrl-D to exit")

	input := liner.NewLiner()
	defer input.Close()
	input.SetCtrlCAborts(true)
	input.SetTabCompletionStyle(liner.TabPrints)
	input.SetCompleter(suggest)

	for {
		line, err := input.Prompt("ncctl$ ")
		if err == liner.ErrPromptAborted {
			continue
		} else if err == io.EOF {
			fmt.Println()
			break
		} else if err != nil {
			log.Error("prompt: %v", err)
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		input.AppendHistory(line)

		if line == "quit" {
			break
		}

		if err := dispatch(name, rmem, cache, sysv, line); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func dispatch(name *namestub.Stub, rmem *rmemstub.Stub, cache *rcache.Cache, sysv *sysvstub.Stub, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		fmt.Println(strings.Join(commands, " "))
		return nil

	case "setpid":
		pid, err := name.Setpid()
		if err != nil {
			return err
		}
		fmt.Println(pid)
		return nil
	case "link":
		return expect(args, 1, func() error { return name.Link(args[0]) })
	case "unlink":
		return expect(args, 1, func() error { return name.Unlink(args[0]) })
	case "lookup":
		return expect(args, 1, func() error {
			pi, err := name.Lookup(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("pid=%d node=%d\n", pi.Pid, pi.NodeNum)
			return nil
		})
	case "lookup2":
		return expectPid(args, func(pid ncpid.Pid) error {
			pi, err := name.Lookup2(pid)
			if err != nil {
				return err
			}
			fmt.Printf("pid=%d node=%d\n", pi.Pid, pi.NodeNum)
			return nil
		})
	case "heartbeat":
		return name.Heartbeat()
	case "getpgid":
		return expectPid(args, func(pid ncpid.Pid) error {
			gid, err := name.Getpgid(pid)
			if err != nil {
				return err
			}
			fmt.Println(gid)
			return nil
		})
	case "setpgid":
		return expect(args, 2, func() error {
			pid, err := parsePid(args[0])
			if err != nil {
				return err
			}
			gid, err := parsePid(args[1])
			if err != nil {
				return err
			}
			return name.Setpgid(pid, ncpid.Gid(gid))
		})
	case "groupmembers":
		return expect(args, 1, func() error {
			gid, err := parsePid(args[0])
			if err != nil {
				return err
			}
			members, err := name.GroupMembers(ncpid.Gid(gid))
			if err != nil {
				return err
			}
			fmt.Println(members)
			return nil
		})

	case "rmem.alloc":
		blk, err := rmem.Alloc()
		if err != nil {
			return err
		}
		fmt.Println(blk)
		return nil
	case "rmem.free":
		return expect(args, 1, func() error {
			blk, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			return rmem.Free(int32(blk))
		})
	case "rmem.write":
		return expect(args, 2, func() error {
			blk, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			buf := make([]byte, ncproto.RmemBlockSize)
			copy(buf, args[1])
			return rmem.Write(int32(blk), buf)
		})
	case "rmem.read":
		return expect(args, 1, func() error {
			blk, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			data, err := rmem.Read(int32(blk))
			if err != nil {
				return err
			}
			fmt.Printf("%q\n", strings.TrimRight(string(data), "\x00"))
			return nil
		})
	case "rmem.stats":
		stats, err := rmem.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("%+v\n", stats)
		return nil

	case "cache.policy":
		return expect(args, 1, func() error {
			switch args[0] {
			case "bypass":
				cache.SelectPolicy(rcache.NewBypassPolicy())
			case "fifo":
				cache.SelectPolicy(rcache.NewFIFOPolicy(32))
			case "lru":
				cache.SelectPolicy(rcache.NewLRUPolicy(32))
			case "nfu":
				cache.SelectPolicy(rcache.NewNFUPolicy(32, 5*time.Second))
			default:
				return fmt.Errorf("unknown policy %q, want bypass|fifo|lru|nfu", args[0])
			}
			return nil
		})
	case "cache.get":
		return expect(args, 1, func() error {
			blk, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			line, err := cache.Get(int32(blk))
			if err != nil {
				return err
			}
			fmt.Printf("%q (dirty=%v)\n", strings.TrimRight(string(line.Data), "\x00"), line.Dirty)
			return nil
		})
	case "cache.put":
		return expect(args, 2, func() error {
			blk, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			buf := make([]byte, ncproto.RmemBlockSize)
			copy(buf, args[1])
			return cache.Put(int32(blk), buf)
		})
	case "cache.flush":
		return expect(args, 1, func() error {
			blk, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			return cache.Flush(int32(blk))
		})
	case "cache.flushall":
		return cache.FlushAll()

	case "shm.create":
		return expect(args, 2, func() error {
			blocks, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			ipcid, err := sysv.ShmCreate(args[0], int32(blocks))
			if err != nil {
				return err
			}
			fmt.Println(ipcid)
			return nil
		})
	case "shm.open":
		return expect(args, 1, func() error {
			ipcid, err := sysv.ShmOpen(args[0])
			if err != nil {
				return err
			}
			fmt.Println(ipcid)
			return nil
		})
	case "shm.close":
		return expectInt32(args, func(ipcid int32) error { return sysv.ShmClose(ipcid) })
	case "shm.unlink":
		return expect(args, 1, func() error { return sysv.ShmUnlink(args[0]) })
	case "shm.ftruncate":
		return expect(args, 2, func() error {
			ipcid, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			size, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			return sysv.ShmFtruncate(int32(ipcid), int32(size))
		})
	case "shm.inval":
		return expect(args, 2, func() error {
			ipcid, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			page, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			return sysv.ShmInval(int32(ipcid), int32(page))
		})

	case "msg.get":
		return expect(args, 1, func() error {
			key, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			msgid, err := sysv.MsgGet(int32(key))
			if err != nil {
				return err
			}
			fmt.Println(msgid)
			return nil
		})
	case "msg.close":
		return expectInt32(args, func(msgid int32) error { return sysv.MsgClose(msgid) })
	case "msg.send":
		return expect(args, 3, func() error {
			msgid, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			typ, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			return sysv.MsgSend(int32(msgid), int32(typ), []byte(args[2]), false)
		})
	case "msg.recv":
		return expect(args, 3, func() error {
			msgid, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			size, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			msgtyp, err := strconv.Atoi(args[2])
			if err != nil {
				return err
			}
			data, err := sysv.MsgReceive(int32(msgid), int32(size), int32(msgtyp), false)
			if err != nil {
				return err
			}
			fmt.Printf("%q\n", strings.TrimRight(string(data), "\x00"))
			return nil
		})

	case "sem.get":
		return expect(args, 1, func() error {
			key, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			semid, err := sysv.SemGet(int32(key))
			if err != nil {
				return err
			}
			fmt.Println(semid)
			return nil
		})
	case "sem.close":
		return expectInt32(args, func(semid int32) error { return sysv.SemClose(semid) })
	case "sem.op":
		return expect(args, 3, func() error {
			semid, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			num, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			op, err := strconv.Atoi(args[2])
			if err != nil {
				return err
			}
			return sysv.SemOperate(int32(semid), ncproto.Sembuf{Num: int32(num), Op: int32(op)}, false)
		})

	default:
		return fmt.Errorf("unknown command %q, try 'help'", cmd)
	}
}

func expect(args []string, n int, f func() error) error {
	if len(args) != n {
		return fmt.Errorf("expected %d argument(s), got %d", n, len(args))
	}
	return f()
}

func expectInt32(args []string, f func(int32) error) error {
	return expect(args, 1, func() error {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		return f(int32(v))
	})
}

func expectPid(args []string, f func(ncpid.Pid) error) error {
	return expect(args, 1, func() error {
		pid, err := parsePid(args[0])
		if err != nil {
			return err
		}
		return f(pid)
	})
}

func parsePid(s string) (ncpid.Pid, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return ncpid.Null, err
	}
	return ncpid.Pid(v), nil
}
