package probmodel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// FormatVersion is written into every saved model.
const FormatVersion = 1

var (
	// ErrVersion is returned when loading a model saved in another format version.
	ErrVersion = errors.New("probmodel: unsupported model version")
	// ErrCorrupt is returned when a saved model does not match the table layout.
	ErrCorrupt = errors.New("probmodel: corrupt model")
)

// The on-disk model is a protobuf message:
//
//	message Table { uint32 kind = 1; uint32 color = 2; repeated uint32 dims = 3; bytes counts = 4; }
//	message Model { uint32 version = 1; repeated Table tables = 2; }
//
// counts holds the packed counters of one table as big endian uint16 values.
var modelDesc, tableDesc protoreflect.MessageDescriptor

func init() {
	field := func(name string, number int32, label descriptorpb.FieldDescriptorProto_Label, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(name),
			JsonName: proto.String(name),
			Number:   proto.Int32(number),
			Label:    label.Enum(),
			Type:     typ.Enum(),
		}
	}
	const (
		optional = descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
		repeated = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
	)

	tables := field("tables", 2, repeated, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	tables.TypeName = proto.String(".lepton.model.Table")

	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("lepton/model.proto"),
		Package: proto.String("lepton.model"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Table"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("kind", 1, optional, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
					field("color", 2, optional, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
					field("dims", 3, repeated, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
					field("counts", 4, optional, descriptorpb.FieldDescriptorProto_TYPE_BYTES),
				},
			},
			{
				Name: proto.String("Model"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("version", 1, optional, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
					tables,
				},
			},
		},
	}

	fd, err := protodesc.NewFile(file, nil)
	if err != nil {
		panic(fmt.Sprintf("probmodel: model descriptor: %v", err))
	}
	tableDesc = fd.Messages().ByName("Table")
	modelDesc = fd.Messages().ByName("Model")
}

// Marshal encodes the model as a protobuf message.
func (m *Model) Marshal() ([]byte, error) {
	msg := dynamicpb.NewMessage(modelDesc)
	msg.Set(modelDesc.Fields().ByName("version"), protoreflect.ValueOfUint32(FormatVersion))

	tf := tableDesc.Fields()
	list := msg.Mutable(modelDesc.Fields().ByName("tables")).List()
	for color := range m.tables {
		for kind, table := range m.tables[color] {
			t := dynamicpb.NewMessage(tableDesc)
			t.Set(tf.ByName("kind"), protoreflect.ValueOfUint32(uint32(kind)))
			t.Set(tf.ByName("color"), protoreflect.ValueOfUint32(uint32(color)))

			dims := t.Mutable(tf.ByName("dims")).List()
			for _, d := range kindDims[kind] {
				dims.Append(protoreflect.ValueOfUint32(uint32(d)))
			}

			counts := make([]byte, 0, 2*len(table))
			for i := range table {
				counts = binary.BigEndian.AppendUint16(counts, table[i].Packed())
			}
			t.Set(tf.ByName("counts"), protoreflect.ValueOfBytes(counts))

			list.Append(protoreflect.ValueOfMessage(t))
		}
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal model: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a model encoded by Marshal. Tables missing from data
// keep their initial state.
func Unmarshal(data []byte) (*Model, error) {
	msg := dynamicpb.NewMessage(modelDesc)
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("unmarshal model: %w", err)
	}

	if v := msg.Get(modelDesc.Fields().ByName("version")).Uint(); v != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, v)
	}

	m := New()
	tf := tableDesc.Fields()
	list := msg.Get(modelDesc.Fields().ByName("tables")).List()
	for i := 0; i < list.Len(); i++ {
		t := list.Get(i).Message()

		kind := t.Get(tf.ByName("kind")).Uint()
		color := t.Get(tf.ByName("color")).Uint()
		if kind >= uint64(kindCount) || color >= Colors {
			return nil, fmt.Errorf("%w: table %d has kind %d color %d", ErrCorrupt, i, kind, color)
		}

		dims := t.Get(tf.ByName("dims")).List()
		want := kindDims[kind]
		if dims.Len() != len(want) {
			return nil, fmt.Errorf("%w: %v has %d dimensions", ErrCorrupt, Kind(kind), dims.Len())
		}
		for d := range want {
			if dims.Get(d).Uint() != uint64(want[d]) {
				return nil, fmt.Errorf("%w: %v dimension %d is %d", ErrCorrupt, Kind(kind), d, dims.Get(d).Uint())
			}
		}

		table := m.tables[color][kind]
		counts := t.Get(tf.ByName("counts")).Bytes()
		if len(counts) != 2*len(table) {
			return nil, fmt.Errorf("%w: %v has %d count bytes", ErrCorrupt, Kind(kind), len(counts))
		}
		for j := range table {
			if !table[j].SetPacked(binary.BigEndian.Uint16(counts[2*j:])) {
				return nil, fmt.Errorf("%w: %v counter %d is zero", ErrCorrupt, Kind(kind), j)
			}
		}
	}

	return m, nil
}

// Save writes the encoded model to w.
func (m *Model) Save(w io.Writer) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Load reads a model written by Save.
func Load(r io.Reader) (*Model, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return Unmarshal(data)
}

// SaveFile writes the model to path. Paths ending in ".zst" are zstd
// compressed and paths ending in ".xz" are xz compressed.
func (m *Model) SaveFile(path string) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}

	switch filepath.Ext(path) {
	case ".zst":
		data, err = compressZstd(data)
	case ".xz":
		data, err = compressXz(data)
	}
	if err != nil {
		return fmt.Errorf("save model %q: %w", path, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	return nil
}

// LoadFile reads a model written by SaveFile.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	switch filepath.Ext(path) {
	case ".zst":
		data, err = decompressZstd(data)
	case ".xz":
		data, err = decompressXz(data)
	}
	if err != nil {
		return nil, fmt.Errorf("load model %q: %w", path, err)
	}

	return Unmarshal(data)
}

var zstdEncPool = sync.Pool{
	New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		return enc
	},
}

var zstdDecPool = sync.Pool{
	New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	},
}

func compressZstd(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	enc := zstdEncPool.Get().(*zstd.Encoder)
	defer zstdEncPool.Put(enc)
	enc.Reset(&buf)

	if _, err := enc.Write(data); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("zstd encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("zstd encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressZstd(data []byte) ([]byte, error) {
	dec := zstdDecPool.Get().(*zstd.Decoder)
	defer zstdDecPool.Put(dec)

	if err := dec.Reset(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}

	var out bytes.Buffer
	if _, err := out.ReadFrom(dec); err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out.Bytes(), nil
}

func compressXz(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("xz encode: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("xz encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("xz encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressXz(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("xz decode: %w", err)
	}

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("xz decode: %w", err)
	}
	return out, nil
}
