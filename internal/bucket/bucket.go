// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

/*
Package bucket implements the token-bucket algebra: pure, deterministic
functions over a bucket snapshot and the current wall time. Nothing in
this package talks to a store; the store gateway applies these
functions on a read-modify-write cycle.

All arithmetic is integer, in milli-tokens (one-thousandth of a token),
so that sub-unit refill never requires floating point.
*/
package bucket

// State is a snapshot of one bucket's persisted fields.
type State struct {
	TokensMilli    int64
	LastRefillMs   int64
	CapacityMilli  int64
	BurstMilli     int64
	RefillAmtMilli int64
	RefillPeriodMs int64
}

// Fresh synthesizes the bucket a first acquire observes when no item
// exists yet in the store: full to capacity, clock started at now.
func Fresh(capacityMilli, burstMilli, refillAmtMilli, refillPeriodMs, nowMs int64) State {
	return State{
		TokensMilli:    capacityMilli,
		LastRefillMs:   nowMs,
		CapacityMilli:  capacityMilli,
		BurstMilli:     burstMilli,
		RefillAmtMilli: refillAmtMilli,
		RefillPeriodMs: refillPeriodMs,
	}
}

// Refill advances a snapshot to nowMs. last_refill_ms always advances
// to nowMs, even when elapsed is zero or negative (clock stays
// monotone), so callers must not call Refill with a nowMs that moves
// backwards relative to a value they intend to persist.
func Refill(s State, nowMs int64) State {
	elapsed := nowMs - s.LastRefillMs
	if elapsed < 0 {
		elapsed = 0
	}

	next := s
	next.LastRefillMs = nowMs

	if elapsed == 0 || s.RefillPeriodMs <= 0 {
		return next
	}

	gained := elapsed * s.RefillAmtMilli / s.RefillPeriodMs
	tokens := s.TokensMilli + gained
	if tokens > s.BurstMilli {
		tokens = s.BurstMilli
	}
	next.TokensMilli = tokens
	return next
}

// ConsumeResult is the outcome of a TryConsume call.
type ConsumeResult struct {
	Success          bool
	State            State
	AvailableTokens  int64 // whole tokens, may be negative on debt
	RetryAfterSecond float64
}

// TryConsume refills the snapshot to nowMs, then deducts amount whole
// tokens if (and only if) enough tokens are present. It never leaves
// the bucket below -burst on the acquire path: a failed attempt makes
// no change to the returned state's tokens beyond the refill itself.
func TryConsume(s State, amount int64, nowMs int64) ConsumeResult {
	refilled := Refill(s, nowMs)
	needed := amount * 1000

	if refilled.TokensMilli >= needed {
		refilled.TokensMilli -= needed
		return ConsumeResult{
			Success:         true,
			State:           refilled,
			AvailableTokens: refilled.TokensMilli / 1000,
		}
	}

	deficit := needed - refilled.TokensMilli
	return ConsumeResult{
		Success:          false,
		State:            refilled,
		AvailableTokens:  refilled.TokensMilli / 1000,
		RetryAfterSecond: RetryAfter(deficit, refilled.RefillAmtMilli, refilled.RefillPeriodMs),
	}
}

// ForceConsume refills then deducts amount unconditionally, possibly
// driving tokens negative. Used exclusively by Lease.Adjust, which must
// never fail on capacity.
func ForceConsume(s State, amount int64, nowMs int64) State {
	refilled := Refill(s, nowMs)
	refilled.TokensMilli -= amount * 1000
	return refilled
}

// Available projects the refilled token count without persisting the
// refill (a read-only view); the signed whole-token count may be
// negative if the bucket carries debt from a prior ForceConsume.
func Available(s State, nowMs int64) int64 {
	return Refill(s, nowMs).TokensMilli / 1000
}

// RetryAfter is the pure function of a token deficit and a refill rate:
// the number of seconds until that many milli-tokens will have
// accumulated.
func RetryAfter(deficitMilli, refillAmtMilli, refillPeriodMs int64) float64 {
	if refillAmtMilli <= 0 {
		return 0
	}
	// seconds = deficit_milli / (refill_amount_milli / refill_period_ms) / 1000
	//         = deficit_milli * refill_period_ms / refill_amount_milli / 1000
	return float64(deficitMilli) * float64(refillPeriodMs) / float64(refillAmtMilli) / 1000.0
}
