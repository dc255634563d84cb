// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package json

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
)

// NewCodec returns a JSON-RPC codec that uppercases the first character of
// the requested method, so clients may call "vault.getToken" against the Go
// method GetToken.
func NewCodec() rpc.Codec {
	return codec{json2.NewCodec()}
}

type codec struct {
	*json2.Codec
}

func (c codec) NewRequest(r *http.Request) rpc.CodecRequest {
	return &codecRequest{c.Codec.NewRequest(r)}
}

type codecRequest struct {
	rpc.CodecRequest
}

func (r *codecRequest) Method() (string, error) {
	method, err := r.CodecRequest.Method()
	if err != nil {
		return "", err
	}
	dot := strings.LastIndex(method, ".")
	if dot < 0 || dot+1 >= len(method) {
		return method, nil
	}
	runes := []rune(method[dot+1:])
	runes[0] = unicode.ToUpper(runes[0])
	return method[:dot+1] + string(runes), nil
}
