package profile

// ExpToNext is the experience required to advance from the given level.
func ExpToNext(level int) int {
	return 50*level + 500
}

// TotalExp is the lifetime experience represented by a level plus the
// progress into it.
func TotalExp(level, exp int) int {
	return 500*(level-1) + (level-1)*level*25 + exp
}

// applyExp adds experience and carries overflow across level-ups.
func applyExp(level, exp, gained int) (int, int) {
	exp += gained
	for exp >= ExpToNext(level) {
		exp -= ExpToNext(level)
		level++
	}
	return level, exp
}
