package books

import "time"

// Seeds returns the demo catalogue. Publication dates are relative to now.
func Seeds(now time.Time) []Book {
	john := Author{ID: 1, FirstName: "John", LastName: "Back"}
	joe := Author{ID: 2, FirstName: "Joe", LastName: "Doe"}
	ago := func(years, months int) time.Time {
		return now.AddDate(-years, -months, 0).UTC().Truncate(24 * time.Hour)
	}
	return []Book{
		{ID: 1, Title: "Advanced Ruby on Rails", ISBN: "1234", PublishedAt: ago(1, 2), Author: john, Pages: 1000},
		{ID: 2, Title: "Back To Basics Ruby on Rails", ISBN: "44356", PublishedAt: ago(3, -2), Author: joe, Pages: 100},
		{ID: 3, Title: "Ruby: The Best Parts", ISBN: "2234", PublishedAt: ago(0, 7), Author: john, Pages: 569},
		{ID: 4, Title: "Fun and Profit with Ruby", ISBN: "4456", PublishedAt: ago(5, 5), Author: john, Pages: 200},
		{ID: 5, Title: "JavaScript: The Good Parts", ISBN: "3234", PublishedAt: ago(2, -2), Author: joe, Pages: 300},
		{ID: 6, Title: "JavaScript: The Bad Parts", ISBN: "88793", PublishedAt: ago(3, -2), Author: joe, Pages: 1300},
		{ID: 7, Title: "Build Web Pages with HTML and CSS", ISBN: "99432", PublishedAt: ago(0, 8), Author: joe, Pages: 800},
		{ID: 8, Title: "HTML & CSS for Dummies", ISBN: "4234", PublishedAt: ago(0, 2), Author: joe, Pages: 400},
	}
}
