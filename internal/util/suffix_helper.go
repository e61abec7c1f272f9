package util

import "strconv"

func SuffixDay(num int) string {
	return suffix(num, "day", "days")
}

func SuffixStake(num int) string {
	return suffix(num, "stake", "stakes")
}

func suffix(num int, one, many string) string {
	if num == 1 || num == -1 {
		return one
	}
	return many
}

func CountLabel(num int, label func(int) string) string {
	return strconv.Itoa(num) + " " + label(num)
}
