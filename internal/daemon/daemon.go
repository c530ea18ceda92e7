package daemon

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/voxcap/voxcap/internal/bus"
	"github.com/voxcap/voxcap/internal/session"
)

// Pipeline is what the daemon drives over the control socket. The
// session controller implements it; tests substitute a stub.
type Pipeline interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) (*session.Session, error)
	Toggle(ctx context.Context) (*session.Session, error)
	Reset()
	Status() session.Status
	Level() float64
}

type Daemon struct {
	pipeline Pipeline

	ctx    context.Context
	cancel context.CancelFunc
}

func New(p Pipeline) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		pipeline: p,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (d *Daemon) Run() error {
	if err := bus.CheckExistingDaemon(); err != nil {
		return err
	}

	ln, err := bus.Listen()
	if err != nil {
		return err
	}
	defer ln.Close()

	if err := bus.CreatePidFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer bus.RemovePidFile()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully", sig)
		d.cancel()
	}()

	// Close the listener when context is done
	go func() {
		<-d.ctx.Done()
		ln.Close()
	}()

	log.Printf("Daemon started, listening on socket")

	for {
		c, err := ln.Accept()
		if err != nil {
			if d.ctx.Err() != nil {
				log.Printf("Shutdown requested")
				d.shutdown()
				return nil
			}
			log.Printf("Accept error: %v", err)
			return fmt.Errorf("accept failed: %w", err)
		}
		go d.handle(c)
	}
}

// shutdown ends any in-flight session so its audio is not lost.
func (d *Daemon) shutdown() {
	if d.pipeline.Status().State != "capturing" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := d.pipeline.Stop(ctx); err != nil {
		log.Printf("Shutdown stop failed: %v", err)
	}
}

func (d *Daemon) handle(c net.Conn) {
	defer c.Close()

	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		log.Printf("Client read error: %v", err)
		fmt.Fprintf(c, "ERR read_error: %v\n", err)
		return
	}
	if len(line) == 0 {
		fmt.Fprint(c, "ERR empty\n")
		return
	}
	cmd := line[0]

	switch cmd {
	case bus.CmdStart:
		id, err := d.pipeline.Start(d.ctx)
		if err != nil {
			fmt.Fprintf(c, "ERR %v\n", err)
			return
		}
		fmt.Fprintf(c, "OK started session=%s\n", id)

	case bus.CmdStop:
		sess, err := d.pipeline.Stop(d.ctx)
		if err != nil {
			fmt.Fprintf(c, "ERR %v\n", err)
			return
		}
		d.writeSession(c, sess)

	case bus.CmdToggle:
		sess, err := d.pipeline.Toggle(d.ctx)
		if err != nil {
			fmt.Fprintf(c, "ERR %v\n", err)
			return
		}
		if sess == nil {
			fmt.Fprint(c, "OK recording\n")
			return
		}
		d.writeSession(c, sess)

	case bus.CmdStatus:
		st := d.pipeline.Status()
		fmt.Fprintf(c, "STATUS state=%s session=%s elapsed=%s level=%.3f buffered=%d consumed=%d dropped=%d model=%s\n",
			st.State, st.SessionID, st.Elapsed.Round(time.Millisecond),
			st.Level, st.Buffered, st.Consumed, st.Dropped, st.Model)

	case bus.CmdLevel:
		fmt.Fprintf(c, "LEVEL %.4f\n", d.pipeline.Level())

	case bus.CmdReset:
		d.pipeline.Reset()
		fmt.Fprint(c, "OK reset\n")

	case bus.CmdVer:
		fmt.Fprintf(c, "STATUS proto=%s\n", bus.ProtoVer)

	case bus.CmdQuit:
		fmt.Fprint(c, "OK quitting\n")
		d.cancel()

	default:
		log.Printf("Unknown command: %c", cmd)
		fmt.Fprintf(c, "ERR unknown=%q\n", cmd)
	}
}

// writeSession replies with the finished transcript on one line.
func (d *Daemon) writeSession(c net.Conn, sess *session.Session) {
	text := strings.ReplaceAll(sess.Transcript, "\n", " ")
	if sess.Err != nil {
		fmt.Fprintf(c, "OK stopped session=%s error=%q transcript=%s\n", sess.ID, sess.Err, text)
		return
	}
	fmt.Fprintf(c, "OK stopped session=%s transcript=%s\n", sess.ID, text)
}
