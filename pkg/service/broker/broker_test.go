// Zaparoo Link
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Link.
//
// Zaparoo Link is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Link is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Link.  If not, see <http://www.gnu.org/licenses/>.

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-link/pkg/api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan models.Notification) models.Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "channel closed")
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return models.Notification{}
	}
}

func TestBroker_SubscribeAssignsIDs(t *testing.T) {
	t.Parallel()

	b := NewBroker(context.Background(), make(chan models.Notification))

	_, id := b.Subscribe(10)
	_, id2 := b.Subscribe(10)

	assert.Equal(t, 0, id)
	assert.Equal(t, 1, id2)
	assert.Len(t, b.subscribers, 2)
}

func TestBroker_Unsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBroker(context.Background(), make(chan models.Notification))
	ch, id := b.Subscribe(10)

	b.Unsubscribe(id)
	assert.Empty(t, b.subscribers)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")

	b.Unsubscribe(id)
}

func TestBroker_BroadcastToMultipleSubscribers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := make(chan models.Notification)
	b := NewBroker(ctx, source)
	b.Start()

	ch1, _ := b.Subscribe(10)
	ch2, _ := b.Subscribe(10)

	source <- models.Notification{Method: models.NotificationLinkState}

	assert.Equal(t, models.NotificationLinkState, recv(t, ch1).Method)
	assert.Equal(t, models.NotificationLinkState, recv(t, ch2).Method)
}

func TestBroker_FullSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := make(chan models.Notification)
	b := NewBroker(ctx, source)
	b.Start()

	slow, _ := b.Subscribe(1)
	fast, fastID := b.Subscribe(10)

	for range 3 {
		source <- models.Notification{Method: models.NotificationLinkTelemetry}
	}

	for range 3 {
		recv(t, fast)
	}
	// takes the write lock, so the last broadcast has finished
	b.Unsubscribe(fastID)

	assert.Len(t, slow, 1)
}

func TestBroker_LatestPerMethod(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := make(chan models.Notification)
	b := NewBroker(ctx, source)
	b.Start()
	ch, _ := b.Subscribe(10)

	source <- models.Notification{Method: models.NotificationLinkState, Params: []byte(`{"status":"connecting"}`)}
	source <- models.Notification{Method: models.NotificationLinkTelemetry, Params: []byte(`{}`)}
	source <- models.Notification{Method: models.NotificationLinkState, Params: []byte(`{"status":"connected"}`)}
	for range 3 {
		recv(t, ch)
	}

	latest := b.Latest()
	require.Len(t, latest, 2)
	assert.Equal(t, models.NotificationLinkState, latest[0].Method)
	assert.JSONEq(t, `{"status":"connected"}`, string(latest[0].Params))
	assert.Equal(t, models.NotificationLinkTelemetry, latest[1].Method)
}

func TestBroker_SourceCloseClosesSubscribers(t *testing.T) {
	t.Parallel()

	source := make(chan models.Notification)
	b := NewBroker(context.Background(), source)
	ch, _ := b.Subscribe(1)
	b.Start()

	close(source)

	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("broker did not stop")
	}
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroker_ContextCancelStops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	b := NewBroker(ctx, make(chan models.Notification))
	ch, _ := b.Subscribe(1)
	b.Start()

	cancel()

	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("broker did not stop")
	}
	_, ok := <-ch
	assert.False(t, ok)
}
