package atproto

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// CollectionBlock is the network's canonical block-record lexicon, the
// one the Commit Consumer watches for create ops on.
const CollectionBlock = "app.bsky.graph.block"

// CollectionListItem is the lexicon for a moderation-list membership
// record.
const CollectionListItem = "app.bsky.graph.listitem"

// CollectionList is the lexicon for the list record itself.
const CollectionList = "app.bsky.graph.list"

// ModListPurpose marks a list record as a moderation list rather than a
// curation list.
const ModListPurpose = "app.bsky.graph.defs#modlist"

// ListRecordInput is the record body submitted when creating the
// canonical moderation list.
type ListRecordInput struct {
	Type        string    `json:"$type"`
	Purpose     string    `json:"purpose"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// blockRecord mirrors app.bsky.graph.block's DAG-CBOR shape: a $type tag
// plus the subject DID and creation time.
type blockRecord struct {
	Type      string `cbor:"$type"`
	Subject   string `cbor:"subject"`
	CreatedAt string `cbor:"createdAt"`
}

// DecodeBlockRecord extracts the subject DID from a raw DAG-CBOR block
// record resolved out of a commit's block bundle.
func DecodeBlockRecord(raw []byte) (subjectDID string, createdAt time.Time, err error) {
	var rec blockRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return "", time.Time{}, fmt.Errorf("decode block record: %w", err)
	}
	if rec.Subject == "" {
		return "", time.Time{}, fmt.Errorf("decode block record: missing subject")
	}
	return rec.Subject, parseTime(rec.CreatedAt), nil
}

// ListItemRecord is the record body submitted when adding a DID to a
// moderation list.
type ListItemRecord struct {
	Type      string    `json:"$type"`
	List      string    `json:"list"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"createdAt"`
}

// BlockRecordInput is the record body submitted when creating a block.
type BlockRecordInput struct {
	Type      string    `json:"$type"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"createdAt"`
}
