package classify

// KnownProcessIDs are process ids that always classify as processes without I/O.
var KnownProcessIDs = []string{
	"mA6XRUaN6RFHgKbAbStUDMjk-b99dG5h867guIgl7t4",
	"v2I1YY4BhSpUESKrWAy-7T8LBQX0tizSib_nZyplt1o",
	"wF0hsrp-TOoWOmaOnCnA4i3ga3K6u2OyDzMP7dSixBQ",
	"uGrcAxdb6KloZsQH-7HQsP8bC2cK7USWaRdTmHt6K-4",
	"lYWMAev5Qzb-vRPuASh4AuJfcjKyLxvjWuYn5vvQef8",
	"Eb5Si_xx64vKXM29M5v1BzJgFn7rUEVrqjM2egXSsaM",
	"er9E2ydIb24wGW00ZcVwV6V9jyXVEjQr5rsIV40nwCE",
	"XytVw0c7nj_0IVBspHa08DgnEq4xBJHMDVT6NVFxOOs",
	"acnc4yEuP7e5W9WCa0m-P4bg7I-6lcPd1TKvudZgmZI",
	"YG7gVJpSGPlgsfpiImTxJnfBC2Qj8KHBb_fnjY284Rs",
	"1mxexsu3W2dQZgEyPQ59swt4QAQj9vi0Wfnj_bXgWIo",
}
