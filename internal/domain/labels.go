package domain

// Label returns the letter label for the i-th candidate: A..Z, then AA, AB, ...
func Label(i int) string {
	if i < 0 {
		return ""
	}
	var buf []byte
	for n := i + 1; n > 0; n = (n - 1) / 26 {
		buf = append([]byte{byte('A' + (n-1)%26)}, buf...)
	}
	return string(buf)
}

// LabelTasks assigns labels in list order.
func LabelTasks(tasks []Task) []Candidate {
	out := make([]Candidate, len(tasks))
	for i, t := range tasks {
		out[i] = Candidate{Label: Label(i), Task: t}
	}
	return out
}
