package dashboard

import "churnboard/pkg/domain"

// AggregateByDepartment counts retained and churned records per department
// in order of first appearance. Records without a department fall under
// domain.UnknownDepartment.
func AggregateByDepartment(records []domain.Record) []domain.DepartmentChurn {
	out := []domain.DepartmentChurn{}
	pos := make(map[string]int)
	for _, r := range records {
		dept := domain.UnknownDepartment
		if r.Department != nil && *r.Department != "" {
			dept = *r.Department
		}
		i, ok := pos[dept]
		if !ok {
			i = len(out)
			pos[dept] = i
			out = append(out, domain.DepartmentChurn{Department: dept})
		}
		if r.ChurnFlag {
			out[i].Churned++
		} else {
			out[i].Retained++
		}
	}
	return out
}

// Summarize returns the header counters.
func Summarize(records []domain.Record) domain.Summary {
	s := domain.Summary{Total: len(records)}
	for _, r := range records {
		if r.ChurnFlag {
			s.Churned++
		}
	}
	s.Retained = s.Total - s.Churned
	if s.Total > 0 {
		s.ChurnRate = float64(s.Churned) / float64(s.Total)
	}
	return s
}
