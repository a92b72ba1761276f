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

package quest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrQuestNotFound is returned for an unknown quest id
var ErrQuestNotFound = errors.New("quest not found")

// Quest is the catalog view of a quest relevant to verification
type Quest struct {
	ID            string `json:"id"`
	WorldID       string `json:"world_id"`
	ProofRequired bool   `json:"proof_required"`
}

// Catalog resolves quests
type Catalog interface {
	Quest(ctx context.Context, questID string) (*Quest, error)
}

// StaticCatalog is a fixed, in-process quest catalog
type StaticCatalog struct {
	mutex  sync.RWMutex
	quests map[string]*Quest
}

// NewStaticCatalog returns a catalog of the given quests
func NewStaticCatalog(quests ...*Quest) *StaticCatalog {
	c := &StaticCatalog{
		quests: map[string]*Quest{},
	}
	for _, q := range quests {
		c.Put(q)
	}
	return c
}

// LoadStaticCatalog reads a json array of quests from path
func LoadStaticCatalog(path string) (*StaticCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read quest catalog %s; %s", path, err.Error())
	}

	var quests []*Quest
	if err := json.Unmarshal(raw, &quests); err != nil {
		return nil, fmt.Errorf("failed to parse quest catalog %s; %s", path, err.Error())
	}

	for _, q := range quests {
		if q.ID == "" || q.WorldID == "" {
			return nil, fmt.Errorf("invalid quest catalog %s; quests require id and world_id", path)
		}
	}

	return NewStaticCatalog(quests...), nil
}

// Put adds or replaces a quest
func (c *StaticCatalog) Put(q *Quest) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	quest := *q
	c.quests[q.ID] = &quest
}

// Quest returns the quest with the given id
func (c *StaticCatalog) Quest(ctx context.Context, questID string) (*Quest, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	q, ok := c.quests[questID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQuestNotFound, questID)
	}
	quest := *q
	return &quest, nil
}
