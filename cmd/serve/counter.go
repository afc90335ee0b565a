package serve

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dMem/lib/membership"
	"github.com/ValentinKolb/dMem/lib/sharding"
)

var errCrash = errors.New("counter crashed on request")

// counter is the demo entity served by dmem serve.
//
//	inc [n]  add n (default 1) and reply the new value
//	get      reply the value
//	stop     passivate, the counter is forgotten
//	crash    stop abruptly, the counter is restarted
//
// Anything else is echoed. The value is not persisted, only the fact that
// the counter is running is remembered.
type counter struct {
	id    membership.EntityID
	value int64
}

func newCounter(id membership.EntityID) sharding.Entity {
	return &counter{id: id}
}

func (c *counter) Receive(_ context.Context, msg sharding.Message) error {
	text, _ := msg.Payload.(string)
	fields := strings.Fields(text)
	if len(fields) == 0 {
		msg.Reply("")
		return nil
	}

	switch fields[0] {
	case "inc":
		n := int64(1)
		if len(fields) > 1 {
			v, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				msg.Reply("invalid increment: " + fields[1])
				return nil
			}
			n = v
		}
		c.value += n
		msg.Reply(strconv.FormatInt(c.value, 10))
	case "get":
		msg.Reply(strconv.FormatInt(c.value, 10))
	case "stop":
		msg.Reply("stopping " + c.id)
		return sharding.ErrPassivate
	case "crash":
		return errCrash
	default:
		msg.Reply(strings.TrimSpace(text))
	}
	return nil
}
