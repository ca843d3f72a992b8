package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FrameKind discriminates the backtrace frame variants.
type FrameKind int

const (
	// FrameNormal is a fully symbolicated source frame
	FrameNormal FrameKind = iota
	// FrameAddress is an unsymbolicated native return address
	FrameAddress
	// FrameMinified is an un-sourcemapped JavaScript frame
	FrameMinified
	// FrameObfuscated is an un-deobfuscated Java frame
	FrameObfuscated
	// FrameUnknown is any tagged frame this release does not understand
	FrameUnknown
)

// Legacy array markers sent by old client libraries.
const (
	legacyAddressMarker    = "_RETURN_ADDRESS_"
	legacyMinifiedMarker   = "_JS_ASSET_"
	legacyObfuscatedMarker = "_JAVA_"
)

func (k FrameKind) String() string {
	switch k {
	case FrameNormal:
		return "normal"
	case FrameAddress:
		return "address"
	case FrameMinified:
		return "minified"
	case FrameObfuscated:
		return "obfuscated"
	default:
		return "unknown"
	}
}

// Frame is one backtrace element. Only the fields relevant to Kind are set:
//
//	Normal:     File, Line, Symbol
//	Address:    Address
//	Minified:   URL, Line, Column, Symbol
//	Obfuscated: File, Line, Symbol, Class
//	Unknown:    Tag
//
// Line is nil when the client reported none.
type Frame struct {
	Kind    FrameKind
	File    string
	Line    *int
	Symbol  string
	Address uint64
	URL     string
	Column  int
	Class   string
	Tag     string
}

// NormalFrame builds a symbolicated frame.
func NormalFrame(file string, line int, symbol string) Frame {
	return Frame{Kind: FrameNormal, File: file, Line: &line, Symbol: symbol}
}

// AddressFrame builds an unsymbolicated frame.
func AddressFrame(address uint64) Frame {
	return Frame{Kind: FrameAddress, Address: address}
}

// MinifiedFrame builds an un-sourcemapped JavaScript frame.
func MinifiedFrame(url string, line, column int, symbol string) Frame {
	return Frame{Kind: FrameMinified, URL: url, Line: &line, Column: column, Symbol: symbol}
}

// ObfuscatedFrame builds an obfuscated Java frame.
func ObfuscatedFrame(file string, line int, symbol, class string) Frame {
	return Frame{Kind: FrameObfuscated, File: file, Line: &line, Symbol: symbol, Class: class}
}

// LineOr returns the frame line, or def when the line is missing.
func (f Frame) LineOr(def int) int {
	if f.Line == nil {
		return def
	}
	return *f.Line
}

type frameObject struct {
	Type    string `json:"type,omitempty"`
	File    string `json:"file,omitempty"`
	Line    *int   `json:"line,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	Address uint64 `json:"address,omitempty"`
	URL     string `json:"url,omitempty"`
	Column  int    `json:"column,omitempty"`
	Class   string `json:"class_name,omitempty"`
}

// UnmarshalJSON accepts the object encoding ({"file":..,"line":..}, with an
// optional "type" tag) and the legacy array encodings:
//
//	[file, line, symbol]
//	["_RETURN_ADDRESS_", address]
//	["_JS_ASSET_", url, line, column, symbol]
//	["_JAVA_", file, line, symbol, class]
func (f *Frame) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return f.unmarshalLegacy(data)
	}

	var obj frameObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	switch obj.Type {
	case "":
		*f = Frame{Kind: FrameNormal, File: obj.File, Line: obj.Line, Symbol: obj.Symbol}
	case "address":
		*f = Frame{Kind: FrameAddress, Address: obj.Address}
	case "minified":
		*f = Frame{Kind: FrameMinified, URL: obj.URL, Line: obj.Line, Column: obj.Column, Symbol: obj.Symbol}
	case "obfuscated":
		*f = Frame{Kind: FrameObfuscated, File: obj.File, Line: obj.Line, Symbol: obj.Symbol, Class: obj.Class}
	default:
		*f = Frame{Kind: FrameUnknown, Tag: obj.Type}
	}
	return nil
}

func (f *Frame) unmarshalLegacy(data []byte) error {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return err
	}
	if len(elems) == 0 {
		return fmt.Errorf("empty backtrace frame")
	}

	var head string
	if err := json.Unmarshal(elems[0], &head); err != nil {
		return fmt.Errorf("frame element 0: %w", err)
	}

	var err error
	switch {
	case head == legacyAddressMarker && len(elems) == 2:
		var addr uint64
		err = decodeElems(elems[1:], &addr)
		*f = AddressFrame(addr)
	case head == legacyMinifiedMarker && len(elems) == 5:
		var url, symbol string
		var line, column int
		err = decodeElems(elems[1:], &url, &line, &column, &symbol)
		*f = MinifiedFrame(url, line, column, symbol)
	case head == legacyObfuscatedMarker && len(elems) == 5:
		var file, symbol, class string
		var line int
		err = decodeElems(elems[1:], &file, &line, &symbol, &class)
		*f = ObfuscatedFrame(file, line, symbol, class)
	case len(elems) == 3:
		var line *int
		var symbol string
		err = decodeElems(elems[1:], &line, &symbol)
		*f = Frame{Kind: FrameNormal, File: head, Line: line, Symbol: symbol}
	default:
		*f = Frame{Kind: FrameUnknown, Tag: head}
	}
	return err
}

func decodeElems(elems []json.RawMessage, targets ...interface{}) error {
	for i, target := range targets {
		if err := json.Unmarshal(elems[i], target); err != nil {
			return fmt.Errorf("frame element %d: %w", i+1, err)
		}
	}
	return nil
}

// MarshalJSON always writes the object encoding.
func (f Frame) MarshalJSON() ([]byte, error) {
	obj := frameObject{}
	switch f.Kind {
	case FrameNormal:
		obj.File, obj.Line, obj.Symbol = f.File, f.Line, f.Symbol
	case FrameAddress:
		obj.Type, obj.Address = "address", f.Address
	case FrameMinified:
		obj.Type, obj.URL, obj.Line, obj.Column, obj.Symbol = "minified", f.URL, f.Line, f.Column, f.Symbol
	case FrameObfuscated:
		obj.Type, obj.File, obj.Line, obj.Symbol, obj.Class = "obfuscated", f.File, f.Line, f.Symbol, f.Class
	default:
		obj.Type = f.Tag
		if obj.Type == "" {
			obj.Type = "unknown"
		}
	}
	return json.Marshal(obj)
}
