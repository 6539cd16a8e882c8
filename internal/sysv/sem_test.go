package sysv

import (
	"sync"
	"testing"
	"time"

	"github.com/noc-os/ncruntime/pkg/ncproto"
)

func TestSemOperateSynchronous(t *testing.T) {
	_, client := startTestServer(t)

	get := roundTrip(t, client, ncproto.SemGetRequest{Key: 1}, ncproto.SysvSemGet)
	semId := get.Body.(ncproto.Ret).IpcId

	inc := roundTrip(t, client, ncproto.SemOperateRequest{SemId: semId, Op: ncproto.Sembuf{Num: 0, Op: 3}}, ncproto.SysvSemOperate)
	if !inc.Header.Opcode.Succeeded() {
		t.Fatalf("increment failed: %v", inc.Header.Opcode)
	}

	dec := roundTrip(t, client, ncproto.SemOperateRequest{SemId: semId, Op: ncproto.Sembuf{Num: 0, Op: -3}}, ncproto.SysvSemOperate)
	if !dec.Header.Opcode.Succeeded() {
		t.Fatalf("decrement to zero failed: %v", dec.Header.Opcode)
	}
}

func TestSemOperateNoWaitFailsImmediately(t *testing.T) {
	_, client := startTestServer(t)

	get := roundTrip(t, client, ncproto.SemGetRequest{Key: 2}, ncproto.SysvSemGet)
	semId := get.Body.(ncproto.Ret).IpcId

	reply := roundTripFlags(t, client, ncproto.SemOperateRequest{SemId: semId, Op: ncproto.Sembuf{Num: 0, Op: -1}}, ncproto.SysvSemOperate, ncproto.FlagNoWait)
	if reply.Header.Opcode.Succeeded() {
		t.Fatal("decrement below zero with IPC_NOWAIT should fail")
	}
	if reply.Body.(ncproto.Ret).ErrCode != ncproto.EAGAIN {
		t.Fatalf("got %v, want EAGAIN", reply.Body.(ncproto.Ret).ErrCode)
	}
}

// TestSemOperateBlockingRendezvous exercises §8's literal blocking-semaphore
// scenario: one caller blocks on a decrement that can't yet apply, a second
// caller's increment wakes it with a delayed success reply.
func TestSemOperateBlockingRendezvous(t *testing.T) {
	_, client := startTestServer(t)

	get := roundTrip(t, client, ncproto.SemGetRequest{Key: 3}, ncproto.SysvSemGet)
	semId := get.Body.(ncproto.Ret).IpcId

	var wg sync.WaitGroup
	wg.Add(1)
	var blocked *ncproto.Message
	go func() {
		defer wg.Done()
		blocked = roundTrip(t, client, ncproto.SemOperateRequest{SemId: semId, Op: ncproto.Sembuf{Num: 0, Op: -1}}, ncproto.SysvSemOperate)
	}()

	time.Sleep(50 * time.Millisecond) // let the blocking request land and park

	inc := roundTrip(t, client, ncproto.SemOperateRequest{SemId: semId, Op: ncproto.Sembuf{Num: 0, Op: 1}}, ncproto.SysvSemOperate)
	if !inc.Header.Opcode.Succeeded() {
		t.Fatalf("waking increment failed: %v", inc.Header.Opcode)
	}

	wg.Wait()
	if blocked == nil || !blocked.Header.Opcode.Succeeded() {
		t.Fatalf("blocked caller should have received a delayed success reply, got %+v", blocked)
	}
}
