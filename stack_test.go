// stack_test.go: unit tests for Stack.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package talos

import (
	"sync"
	"testing"
)

func TestStack_PushPop_LIFO(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	s := NewStack[int](dom)

	for i := 1; i <= 5; i++ {
		s.Push(i)
	}
	if s.Size() != 5 {
		t.Fatalf("expected size 5, got %d", s.Size())
	}

	for i := 5; i >= 1; i-- {
		v, ok := s.Pop()
		if !ok {
			t.Fatalf("expected Pop to succeed at value %d", i)
		}
		if v != i {
			t.Errorf("expected %d, got %d", i, v)
		}
	}

	if !s.IsEmpty() {
		t.Error("expected stack to be empty")
	}
	if _, ok := s.Pop(); ok {
		t.Error("expected Pop on empty stack to fail")
	}
}

func TestStack_Peek(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	s := NewStack[string](dom)

	if _, ok := s.Peek(); ok {
		t.Error("expected Peek on empty stack to fail")
	}

	s.Push("a")
	s.Push("b")

	v, ok := s.Peek()
	if !ok || v != "b" {
		t.Fatalf("expected Peek to return b, got %q (ok=%v)", v, ok)
	}
	if s.Size() != 2 {
		t.Errorf("Peek should not remove the element, size=%d", s.Size())
	}
}

func TestStack_ConcurrentPushPop(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	s := NewStack[int](dom)

	const goroutines = 32
	const perGoroutine = 500

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				s.Push(i)
			}
		}()
	}
	wg.Wait()

	if s.Size() != goroutines*perGoroutine {
		t.Fatalf("expected size %d, got %d", goroutines*perGoroutine, s.Size())
	}

	popped := 0
	wg.Add(goroutines)
	var mu sync.Mutex
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			local := 0
			for {
				if _, ok := s.Pop(); ok {
					local++
				} else {
					break
				}
			}
			mu.Lock()
			popped += local
			mu.Unlock()
		}()
	}
	wg.Wait()

	if popped != goroutines*perGoroutine {
		t.Fatalf("expected to pop %d total, got %d", goroutines*perGoroutine, popped)
	}
	if !s.IsEmpty() {
		t.Error("expected stack to be empty after draining")
	}
}
