package upstream

import (
	"context"
	"time"
)

func SetWaitFunc(c *Client, fn func(context.Context, time.Duration) error) {
	c.wait = fn
}
