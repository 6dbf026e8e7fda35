package kerrors

import (
	"errors"
	"testing"
)

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindConnection:            "ConnectionError",
		KindMetadata:              "MetadataError",
		KindProtocol:              "ProtocolError",
		KindCRC:                   "CrcError",
		KindLeaderElectionTimeout: "LeaderElectionTimeout",
		KindOffsetOutOfRange:      "OffsetOutOfRangeError",
		Kind(99):                  "UnknownError",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func TestErrorUnwrapAndErrorsIs(t *testing.T) {
	inner := errors.New("dial refused")
	err := Connection("dial", inner)
	if !errors.Is(err, inner) {
		t.Fatal("errors.Is(err, inner) = false, want true")
	}
	if errors.Unwrap(err) != inner {
		t.Fatalf("Unwrap() = %v, want %v", errors.Unwrap(err), inner)
	}
}

func TestErrorMessageWithAndWithoutWrappedErr(t *testing.T) {
	withInner := Metadata("refresh", errors.New("no brokers reachable"))
	if got := withInner.Error(); got != "MetadataError: refresh: no brokers reachable" {
		t.Fatalf("Error() = %q", got)
	}

	noInner := LeaderElectionTimeout("orders", 3)
	if got := noInner.Error(); got != "LeaderElectionTimeout: orders/3" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestOffsetOutOfRangeCarriesTopicPartition(t *testing.T) {
	err := OffsetOutOfRange("clicks", 7)
	if err.Kind != KindOffsetOutOfRange {
		t.Fatalf("Kind = %v, want KindOffsetOutOfRange", err.Kind)
	}
	if err.Op != "clicks/7" {
		t.Fatalf("Op = %q, want clicks/7", err.Op)
	}
}

func TestConstructorsSetExpectedKind(t *testing.T) {
	if Connection("x", nil).Kind != KindConnection {
		t.Fatal("Connection() did not set KindConnection")
	}
	if Protocol("x", nil).Kind != KindProtocol {
		t.Fatal("Protocol() did not set KindProtocol")
	}
	if CRC("x", nil).Kind != KindCRC {
		t.Fatal("CRC() did not set KindCRC")
	}
}
