package daemon

import (
	"fmt"
	"os"
	"testing"

	"github.com/jwulff/musicmill/internal/config"
)

// TestLiveDaemonConnection connects to a running daemon and tests basic commands.
// Skipped if the daemon socket doesn't exist.
func TestLiveDaemonConnection(t *testing.T) {
	sockPath := config.DefaultSocketPath()
	if _, err := os.Stat(sockPath); os.IsNotExist(err) {
		t.Skip("daemon not running (no socket at", sockPath, ")")
	}

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	fmt.Println("Connected to daemon")

	resp, err := client.SendCommand(Command{Cmd: CmdStatus})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !resp.OK {
		t.Fatalf("status not ok: %s", resp.Error)
	}
	fmt.Printf("Status: ok=%v status=%q nodes=%v tracks=%v session=%v\n",
		resp.OK, resp.Status, resp.Nodes, resp.Tracks, resp.Session != nil)

	// Subscribe on a second connection, then close it right away.
	client2, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect for subscribe: %v", err)
	}
	defer client2.Close()

	if err := client2.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	fmt.Println("Subscribe: ok")
}
