package dashboard

import (
	"strings"
	"sync"

	"churnboard/pkg/domain"
)

// DefaultPageSize is used when no page size is configured.
const DefaultPageSize = 10

// View is one page of the filtered record set.
type View struct {
	Rows          []domain.Record `json:"rows"`
	Page          int             `json:"page"`
	TotalPages    int             `json:"totalPages"`
	FilteredCount int             `json:"filteredCount"`
	PageSize      int             `json:"pageSize"`
}

// IDs returns the ids of the rows on the page.
func (v View) IDs() []int64 {
	ids := make([]int64, 0, len(v.Rows))
	for _, r := range v.Rows {
		ids = append(ids, r.ID)
	}
	return ids
}

// ComputeView filters records whose employee_id or department contains
// searchTerm (case-insensitive), clamps page into [1, totalPages] and
// returns that page. It does not modify its input.
func ComputeView(records []domain.Record, searchTerm string, page, pageSize int) View {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	needle := strings.ToLower(searchTerm)
	filtered := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if matches(r, needle) {
			filtered = append(filtered, r)
		}
	}

	totalPages := (len(filtered) + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	page = min(max(page, 1), totalPages)

	start := min((page-1)*pageSize, len(filtered))
	end := min(page*pageSize, len(filtered))
	return View{
		Rows:          domain.CloneRecords(filtered[start:end]),
		Page:          page,
		TotalPages:    totalPages,
		FilteredCount: len(filtered),
		PageSize:      pageSize,
	}
}

func matches(r domain.Record, needle string) bool {
	if needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(r.EmployeeID), needle) {
		return true
	}
	return r.Department != nil && strings.Contains(strings.ToLower(*r.Department), needle)
}

// QueryState holds the search term and requested page. Changing the term
// resets the page to 1.
type QueryState struct {
	mu         sync.Mutex
	searchTerm string
	page       int
}

func NewQueryState() *QueryState {
	return &QueryState{page: 1}
}

// SetSearchTerm updates the term and reports whether it changed.
func (q *QueryState) SetSearchTerm(term string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if term == q.searchTerm {
		return false
	}
	q.searchTerm = term
	q.page = 1
	return true
}

// SetPage records the requested page. Out of range values are clamped when
// the view is computed.
func (q *QueryState) SetPage(page int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.page = page
}

func (q *QueryState) Current() (string, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.searchTerm, q.page
}
