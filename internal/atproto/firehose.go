package atproto

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	cid "github.com/ipfs/go-cid"
	car "github.com/ipld/go-car/v2"
	"github.com/gorilla/websocket"
)

// SubscribeRepos dials com.atproto.sync.subscribeRepos and decodes the
// wire protocol: each websocket message is two concatenated DAG-CBOR
// values, a small header ({op, t}) followed by a body whose shape
// depends on t. Only "#commit" bodies carry ops; every other kind is
// forwarded with just its Kind/Seq set so the caller can still
// checkpoint past it.
func (c *Client) SubscribeRepos(ctx context.Context, cursor *int64) (<-chan FirehoseMessage, error) {
	u, err := subscribeURL(c.xrpcc.Host, cursor)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial subscribeRepos: %w", err)
	}

	out := make(chan FirehoseMessage, 64)
	go func() {
		defer close(out)
		defer conn.Close()

		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("[atproto] firehose read error: %v", err)
				}
				return
			}
			msg, err := decodeFrame(raw)
			if err != nil {
				log.Printf("[atproto] firehose frame decode error: %v", err)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// subscribeURL builds the subscribeRepos request URL. A nil cursor omits
// the query parameter entirely (stream from the live edge); a non-nil
// cursor is always included, even when it points at 0 (earliest
// available), since "missing" and "explicitly zero" are distinct
// requests on the wire.
func subscribeURL(host string, cursor *int64) (string, error) {
	base, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("parse host: %w", err)
	}
	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	case "http", "":
		base.Scheme = "ws"
	}
	base.Path = "/xrpc/com.atproto.sync.subscribeRepos"
	q := base.Query()
	if cursor != nil {
		q.Set("cursor", strconv.FormatInt(*cursor, 10))
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

type frameHeader struct {
	Op int8   `cbor:"op"`
	T  string `cbor:"t"`
}

type commitBody struct {
	Repo   string   `cbor:"repo"`
	Seq    int64    `cbor:"seq"`
	Time   string   `cbor:"time"`
	Blocks []byte   `cbor:"blocks"`
	Rebase bool     `cbor:"rebase"`
	TooBig bool     `cbor:"tooBig"`
	Ops    []repoOp `cbor:"ops"`
}

type repoOp struct {
	Action string   `cbor:"action"`
	Path   string   `cbor:"path"`
	CID    *cidLink `cbor:"cid"`
}

// genericBody covers #info/#error frames and any #commit-shaped frame we
// only need the seq out of.
type genericBody struct {
	Seq     int64  `cbor:"seq"`
	Name    string `cbor:"name"`
	Message string `cbor:"message"`
}

func decodeFrame(raw []byte) (FirehoseMessage, error) {
	dec := cbor.NewDecoder(bytes.NewReader(raw))

	var hdr frameHeader
	if err := dec.Decode(&hdr); err != nil {
		return FirehoseMessage{}, fmt.Errorf("decode frame header: %w", err)
	}

	if hdr.Op == -1 {
		var body genericBody
		_ = dec.Decode(&body)
		return FirehoseMessage{Kind: "#error", Seq: body.Seq}, nil
	}

	if hdr.T != "#commit" {
		var body genericBody
		_ = dec.Decode(&body)
		return FirehoseMessage{Kind: hdr.T, Seq: body.Seq}, nil
	}

	var body commitBody
	if err := dec.Decode(&body); err != nil {
		return FirehoseMessage{}, fmt.Errorf("decode commit body: %w", err)
	}

	ops := make([]RepoOp, 0, len(body.Ops))
	for _, op := range body.Ops {
		cidStr := ""
		if op.CID != nil {
			cidStr = op.CID.Cid.String()
		}
		ops = append(ops, RepoOp{Action: op.Action, Path: op.Path, CID: cidStr})
	}

	return FirehoseMessage{
		Kind:   "#commit",
		Seq:    body.Seq,
		Repo:   body.Repo,
		Ops:    ops,
		Blocks: body.Blocks,
	}, nil
}

// cidLink decodes a DAG-CBOR CID link: CBOR tag 42 wrapping a byte
// string whose first byte is the multibase identity prefix (0x00)
// required by the CAR/DAG-CBOR spec, followed by the raw CID bytes.
type cidLink struct {
	Cid cid.Cid
}

func (c *cidLink) UnmarshalCBOR(data []byte) error {
	var tag cbor.RawTag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("unmarshal cid tag: %w", err)
	}
	if tag.Number != 42 {
		return fmt.Errorf("expected cbor tag 42 for cid link, got %d", tag.Number)
	}
	var raw []byte
	if err := cbor.Unmarshal(tag.Content, &raw); err != nil {
		return fmt.Errorf("unmarshal cid bytes: %w", err)
	}
	if len(raw) > 0 && raw[0] == 0x00 {
		raw = raw[1:]
	}
	parsed, err := cid.Cast(raw)
	if err != nil {
		return fmt.Errorf("cast cid: %w", err)
	}
	c.Cid = parsed
	return nil
}

// ResolveBlock looks up the raw bytes for cidStr inside a CAR-encoded
// block bundle. Returns (nil, false) when the bundle doesn't contain
// that CID — the caller skips the op.
func ResolveBlock(bundle []byte, cidStr string) ([]byte, bool) {
	want, err := cid.Decode(cidStr)
	if err != nil {
		return nil, false
	}
	br, err := car.NewBlockReader(bytes.NewReader(bundle))
	if err != nil {
		return nil, false
	}
	for {
		blk, err := br.Next()
		if err != nil {
			return nil, false
		}
		if blk.Cid().Equals(want) {
			return blk.RawData(), true
		}
	}
}
