package broker

import "testing"

func TestInflightLogFIFOOrder(t *testing.T) {
	l := newInflightLog()
	l.push(inflightEntry{kind: KindMetadata})
	l.push(inflightEntry{kind: KindFetch})
	l.push(inflightEntry{kind: KindProduce})

	if l.len() != 3 {
		t.Fatalf("len() = %d, want 3", l.len())
	}

	want := []Kind{KindMetadata, KindFetch, KindProduce}
	for i, k := range want {
		e, ok := l.pop()
		if !ok {
			t.Fatalf("pop() #%d: no entry", i)
		}
		if e.kind != k {
			t.Fatalf("pop() #%d kind = %v, want %v", i, e.kind, k)
		}
	}
	if l.len() != 0 {
		t.Fatalf("len() after draining = %d, want 0", l.len())
	}
}

func TestInflightLogPopOnEmptyReturnsFalse(t *testing.T) {
	l := newInflightLog()
	if _, ok := l.pop(); ok {
		t.Fatal("pop() on empty log returned ok=true")
	}
}

func TestInflightLogCarriesReplyChannelAndProduceBufs(t *testing.T) {
	l := newInflightLog()
	replyCh := make(chan rpcReply, 1)
	l.push(inflightEntry{kind: KindOffset, replyTo: replyCh})
	l.push(inflightEntry{kind: KindProduce, produceBufs: []produceBufRef{
		{topic: "t", partition: 0},
	}})

	e1, _ := l.pop()
	if e1.replyTo != replyCh {
		t.Fatal("replyTo channel not preserved through push/pop")
	}
	e2, _ := l.pop()
	if len(e2.produceBufs) != 1 || e2.produceBufs[0].topic != "t" {
		t.Fatalf("produceBufs not preserved: %+v", e2.produceBufs)
	}
}
