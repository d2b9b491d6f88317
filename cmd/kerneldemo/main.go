// Command kerneldemo boots the kernel, execs a small tree of processes that
// exercise pipes, a rendezvous socket, and process introspection, then
// prints what happened. It stands in for a boot loader, which this module
// does not have one of.
package main

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"corekernel/pkg/kernel"
)

func main() {
	log, _ := zap.NewDevelopment()
	defer log.Sync()
	zap.ReplaceGlobals(log)

	k := kernel.New(kernel.DefaultConfig(), log)

	pid := k.Boot(initTask, 0, nil)
	log.Info("booted init", zap.Int("pid", int(pid)))

	// Give init's children time to run to completion before this process
	// exits; there is no real scheduler here to block on.
	time.Sleep(200 * time.Millisecond)
}

func initTask(self *kernel.Thread, argl int, args []byte) int {
	log := zap.L()

	echoPid := self.Exec(echoServer, 0, nil)
	time.Sleep(20 * time.Millisecond) // let the listener bind before connecting

	clientPid := self.Exec(echoClient, 4, []byte("ping"))

	var status int
	for {
		reaped := self.WaitChild(kernel.NoProc, &status)
		if reaped == kernel.NoProc {
			break
		}
		log.Info("reaped child", zap.Int("pid", int(reaped)), zap.Int("status", status))
	}

	printProcessTable(self)

	fmt.Println("demo complete; echo server pid", echoPid, "client pid", clientPid)
	return 0
}

const demoPort kernel.Port = 7

func echoServer(self *kernel.Thread, argl int, args []byte) int {
	fid, rc := self.Socket(demoPort)
	if rc != 0 {
		return -1
	}
	if self.Listen(fid) != 0 {
		return -1
	}

	peer, rc := self.Accept(fid)
	if rc != 0 {
		return -1
	}

	buf := make([]byte, 64)
	n := self.Read(peer, buf)
	if n > 0 {
		self.Write(peer, buf[:n])
	}

	self.Close(peer)
	self.Close(fid)
	return 0
}

func echoClient(self *kernel.Thread, argl int, args []byte) int {
	log := zap.L()

	fid, rc := self.Socket(kernel.NoPort)
	if rc != 0 {
		return -1
	}

	if rc := self.Connect(fid, demoPort, 2*time.Second); rc != 0 {
		log.Warn("connect failed", zap.Int("result", rc))
		return -1
	}

	self.Write(fid, args[:argl])

	buf := make([]byte, 64)
	n := self.Read(fid, buf)
	log.Info("echo client received", zap.ByteString("payload", buf[:n]))

	self.Close(fid)
	return 0
}

func printProcessTable(self *kernel.Thread) {
	log := zap.L()

	fid, rc := self.OpenInfo()
	if rc != 0 {
		return
	}
	defer self.Close(fid)

	buf := make([]byte, 256)
	for {
		n := self.Read(fid, buf)
		if n <= 0 {
			break
		}
		log.Info("process record", zap.Int("bytes", n))
	}
}
