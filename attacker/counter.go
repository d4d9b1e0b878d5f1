package attacker

import "fmt"

// branchCounter enumerates every assignment of digits below their ceilings,
// incrementing the last digit first and carrying leftwards, like a bigint.
// No digit is ever random, so the enumeration order is fixed by the ceilings.
type branchCounter struct {
	digits   []int
	ceilings []int
	done     bool
}

func makeBranchCounter(ceilings []int) *branchCounter {
	for _, ceiling := range ceilings {
		if ceiling <= 0 {
			panic(fmt.Errorf("bad ceiling %d in %v", ceiling, ceilings))
		}
	}
	return &branchCounter{
		digits:   make([]int, len(ceilings)),
		ceilings: ceilings,
	}
}

// Digits returns the current assignment. The slice is reused by Next.
func (cnt *branchCounter) Digits() []int {
	return cnt.digits
}

func (cnt *branchCounter) Done() bool {
	return cnt.done
}

// Next moves to the following assignment, reporting false once every
// assignment has been produced.
func (cnt *branchCounter) Next() bool {
	carry := 1
	for idx := len(cnt.digits) - 1; idx >= 0 && carry > 0; idx-- {
		count := cnt.digits[idx] + carry
		carry = 0
		if count >= cnt.ceilings[idx] {
			carry = count / cnt.ceilings[idx]
			count = count % cnt.ceilings[idx]
		}
		cnt.digits[idx] = count
	}
	if carry > 0 {
		cnt.done = true
	}
	return !cnt.done
}

// subsets calls fn with every k-element subset of 0..n-1, in lexicographic
// order, until fn returns false.
func subsets(n, k int, fn func([]int) bool) bool {
	if k > n || k <= 0 {
		return true
	}
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		if !fn(idx) {
			return false
		}
		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			return true
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}
