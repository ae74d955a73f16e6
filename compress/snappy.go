// Copyright 2025 The tokud Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package compress

import (
	"github.com/golang/snappy"
)

func init() {
	Register(snappyCompressor{})
}

type snappyCompressor struct{}

func (snappyCompressor) Name() string {
	return "snappy"
}

func (snappyCompressor) Encode(dst []byte, src []byte) []byte {
	return snappy.Encode(dst, src)
}

func (snappyCompressor) Decode(dst []byte, src []byte) ([]byte, error) {
	return snappy.Decode(dst, src)
}
