package segmentlog

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chn0318/logunit/logaddr"
	"github.com/chn0318/logunit/logdata"
)

// encodeMeta serializes everything about entry except its payload
// bytes into the record's META section. spec.md leaves the byte format
// of META unspecified; this module's choice is a protobuf-encoded
// structpb.Struct, reusing google.golang.org/protobuf — a dependency
// the wider Corfu Go stack already carries for its wire protocol —
// repurposed here for on-disk framing instead.
func encodeMeta(entry *logdata.LogData) ([]byte, error) {
	fields := map[string]interface{}{
		"type": entry.Type.String(),
	}
	if len(entry.Streams) > 0 {
		streams := make([]string, 0, len(entry.Streams))
		for s := range entry.Streams {
			streams = append(streams, s.String())
		}
		sort.Strings(streams)
		asAny := make([]interface{}, len(streams))
		for i, s := range streams {
			asAny[i] = s
		}
		fields["streams"] = asAny
	}
	if len(entry.Backpointers) > 0 {
		bp := make(map[string]interface{}, len(entry.Backpointers))
		for s, a := range entry.Backpointers {
			// Encoded as a decimal string, not structpb's float64
			// NumberValue, since a uint64 address can exceed float64's
			// 53 bits of exact integer precision.
			bp[s.String()] = fmt.Sprintf("%d", a)
		}
		fields["backpointers"] = bp
	}
	if len(entry.Metadata) > 0 {
		md := make(map[string]interface{}, len(entry.Metadata))
		for k, v := range entry.Metadata {
			md[string(k)] = v
		}
		fields["metadata"] = md
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("segmentlog: encode metadata: %w", err)
	}
	return proto.Marshal(s)
}

// decodeMeta is encodeMeta's inverse. It returns a LogData with Type,
// Streams, Backpointers and Metadata populated but Payload left nil —
// the caller attaches the payload bytes that follow META in the
// record body.
func decodeMeta(data []byte) (*logdata.LogData, error) {
	entry := &logdata.LogData{
		Streams:      make(map[logaddr.StreamID]struct{}),
		Backpointers: make(map[logaddr.StreamID]uint64),
		Metadata:     make(map[logaddr.MetaKey]interface{}),
	}
	if len(data) == 0 {
		entry.Type = logdata.Empty
		return entry, nil
	}

	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("segmentlog: %w: decoding metadata: %v", ErrCorruption, err)
	}

	if v, ok := s.Fields["type"]; ok {
		switch v.GetStringValue() {
		case "DATA":
			entry.Type = logdata.Data
		case "HOLE":
			entry.Type = logdata.Hole
		case "TRIMMED":
			entry.Type = logdata.Trimmed
		default:
			entry.Type = logdata.Empty
		}
	}

	if v, ok := s.Fields["streams"]; ok {
		for _, item := range v.GetListValue().GetValues() {
			id, err := uuid.Parse(item.GetStringValue())
			if err != nil {
				return nil, fmt.Errorf("segmentlog: %w: stream id %q: %v", ErrCorruption, item.GetStringValue(), err)
			}
			entry.Streams[id] = struct{}{}
		}
	}

	if v, ok := s.Fields["backpointers"]; ok {
		for k, val := range v.GetStructValue().GetFields() {
			id, err := uuid.Parse(k)
			if err != nil {
				return nil, fmt.Errorf("segmentlog: %w: backpointer stream id %q: %v", ErrCorruption, k, err)
			}
			addr, err := strconv.ParseUint(val.GetStringValue(), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("segmentlog: %w: backpointer address for stream %s: %v", ErrCorruption, id, err)
			}
			entry.Backpointers[id] = addr
		}
	}

	if v, ok := s.Fields["metadata"]; ok {
		for k, val := range v.GetStructValue().GetFields() {
			entry.Metadata[logaddr.MetaKey(k)] = val.AsInterface()
		}
	}

	return entry, nil
}
