/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend"
	uuid "github.com/kthomas/go.uuid"
)

// StringOrNil returns the given string or nil when empty
func StringOrNil(str string) *string {
	if str == "" {
		return nil
	}
	return &str
}

// IntOrNil returns a pointer to the given int
func IntOrNil(i int) *int {
	return &i
}

// SHA256 is a convenience method to return the sha256 hash of the given input
func SHA256(str string) string {
	digest := sha256.New()
	digest.Write([]byte(str))
	return hex.EncodeToString(digest.Sum(nil))
}

// RandomBytes generates a cryptographically random byte array
func RandomBytes(length int) ([]byte, error) {
	b := make([]byte, length)
	_, err := rand.Read(b)
	if err != nil {
		return nil, fmt.Errorf("error generating random bytes %s", err.Error())
	}
	return b, nil
}

// NewID returns a new random v4 uuid string
func NewID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("failed to generate id; %s", err.Error())
	}
	return id.String(), nil
}

// gnarkCurveIDs are the curves whose scalar field the commitment envelope can reduce into
var gnarkCurveIDs = []ecc.ID{
	ecc.BN254,
	ecc.BLS12_377,
	ecc.BLS12_381,
	ecc.BLS24_315,
	ecc.BW6_761,
}

// GnarkCurveIDFactory returns an ecc curve id corresponding to the input name
func GnarkCurveIDFactory(curveID *string) ecc.ID {
	if curveID == nil {
		return ecc.UNKNOWN
	}

	name := strings.ToLower(strings.TrimSpace(*curveID))
	for _, id := range gnarkCurveIDs {
		if strings.ToLower(id.String()) == name {
			return id
		}
	}
	return ecc.UNKNOWN
}

const gnarkProvingSchemeGroth16 = "groth16"
const gnarkProvingSchemePlonk = "plonk"

// GnarkProvingSchemeFactory returns the gnark backend id for the named proving scheme
func GnarkProvingSchemeFactory(provingScheme *string) backend.ID {
	if provingScheme == nil {
		return backend.UNKNOWN
	}

	switch strings.ToLower(*provingScheme) {
	case gnarkProvingSchemeGroth16:
		return backend.GROTH16
	case gnarkProvingSchemePlonk:
		return backend.PLONK
	default:
		return backend.UNKNOWN
	}
}
