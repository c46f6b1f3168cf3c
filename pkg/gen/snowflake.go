package gen

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("gen",
	fx.Provide(NewNode),
)

// NewNode builds the process-wide snowflake node. Replicas set
// SNOWFLAKE_NODE_ID so concurrently minted ids cannot collide.
func NewNode() (*snowflake.Node, error) {
	return snowflake.NewNode(nodeID())
}

func nodeID() int64 {
	if v, ok := os.LookupEnv("SNOWFLAKE_NODE_ID"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 1
}
