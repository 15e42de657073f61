package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/picklo/engine"
	"github.com/wfunc/picklo/network"
	"github.com/wfunc/picklo/rpc"
)

// send encodes v and writes one packet.
func send(c *websocket.Conn, msgID uint16, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.BinaryMessage, network.Encode(msgID, data))
}

func printView(data []byte) {
	var v engine.View
	if err := json.Unmarshal(data, &v); err != nil {
		log.Printf("<- VIEW (undecodable): %v", err)
		return
	}
	log.Printf("<- VIEW room=%s phase=%s players=%d hand=%d", v.Room.Code, v.Room.Phase, len(v.Players), len(v.Hand))
	for _, img := range v.Hand {
		if !img.Used {
			log.Printf("   image %s %s", img.ID, img.URL)
		}
	}
	if r := v.Round; r != nil {
		log.Printf("   round %s #%d %s %q submitted=%d/%d voted=%d", r.ID, r.RoundNumber, r.Status, r.Statement, r.Submitted, r.Expected, r.Voted)
		for _, s := range r.Submissions {
			log.Printf("   submission %s votes=%d mine=%v winner=%v", s.ID, s.Votes, s.Mine, s.Winner)
		}
	}
	for _, st := range v.Standings {
		log.Printf("   #%d %s %d", st.Rank, st.Name, st.Points)
	}
}

func main() {
	addr := flag.String("addr", "localhost:8080", "game server address")
	rpcAddr := flag.String("rpc", "localhost:9090", "round service address, used by the standings command")
	roomID := flag.String("room", "", "room id")
	playerID := flag.String("player", "", "player id")
	flag.Parse()
	if *roomID == "" || *playerID == "" {
		log.Fatal("-room and -player are required")
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			p, err := network.Decode(message)
			if err != nil {
				log.Printf("Received invalid packet: %v", err)
				continue
			}
			switch p.MsgID {
			case network.MsgTypeView:
				printView(p.Data)
			default:
				log.Printf("<- RECV (ID: %d): %s", p.MsgID, string(p.Data))
			}
		}
	}()

	if err := send(c, network.MsgTypeAttach, network.AttachRequest{RoomID: *roomID, PlayerID: *playerID}); err != nil {
		log.Println("Write error:", err)
		return
	}

	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := send(c, network.MsgTypeHeartbeat, struct{}{}); err != nil {
					return
				}
			}
		}
	}()

	log.Println("Commands: picking | playing | start | submit <round> <image> | vote <round> <submission> | advance <round> | standings")

	lines := make(chan string)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		for {
			text, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- strings.TrimSpace(text)
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case text, ok := <-lines:
			if !ok {
				return
			}
			if err := command(c, *rpcAddr, *roomID, strings.Fields(text)); err != nil {
				log.Println("Command error:", err)
			}
		}
	}
}

func command(c *websocket.Conn, rpcAddr, roomID string, args []string) error {
	if len(args) == 0 {
		return nil
	}
	switch {
	case args[0] == "picking":
		return send(c, network.MsgTypeBeginPicking, struct{}{})
	case args[0] == "playing":
		return send(c, network.MsgTypeBeginPlaying, struct{}{})
	case args[0] == "start":
		return send(c, network.MsgTypeStartGame, struct{}{})
	case args[0] == "submit" && len(args) == 3:
		return send(c, network.MsgTypeSubmit, network.SubmitRequest{RoundID: args[1], ImageID: args[2]})
	case args[0] == "vote" && len(args) == 3:
		return send(c, network.MsgTypeVote, network.VoteRequest{RoundID: args[1], SubmissionID: args[2]})
	case args[0] == "advance" && len(args) == 2:
		return send(c, network.MsgTypeAdvance, network.AdvanceRequest{RoundID: args[1]})
	case args[0] == "standings":
		return standings(rpcAddr, roomID)
	default:
		log.Printf("unknown command %q", strings.Join(args, " "))
		return nil
	}
}

func standings(rpcAddr, roomID string) error {
	client, err := rpc.Dial(rpcAddr)
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reply, err := client.Standings(ctx, roomID)
	if err != nil {
		return err
	}
	for _, st := range reply.Standings {
		log.Printf("#%d %s %d", st.Rank, st.Name, st.Points)
	}
	return nil
}
