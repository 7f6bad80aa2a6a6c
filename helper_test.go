package redline

import (
	"context"
	"fmt"
	. "testing"
	"time"

	"github.com/redline-io/redline/resp"
)

func testCtx(t *T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// echoStub services ECHO, PING and SELECT, which covers most connection
// tests.
func echoStub() *Conn {
	return Stub(echoFn)
}

func echoFn(args []string) interface{} {
	switch args[0] {
	case "ECHO":
		return args[1]
	case "PING":
		return resp.Simple("PONG")
	case "SELECT":
		return resp.Simple("OK")
	default:
		return fmt.Errorf("ERR unknown command %q", args[0])
	}
}
