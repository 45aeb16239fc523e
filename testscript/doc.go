// Package testscript runs user-authored test scripts against a captured HTTP
// response.
//
// A script registers tests with test(name, fn), asserts with the chainable
// expect(value) matchers (each negatable through .not) and reads or writes
// environment variables through env. Every run gets its own result builder;
// nothing is shared between runs.
//
// Usage:
//
//	runner := testscript.NewRunner(logger, engine)
//	result, err := runner.Run(ctx, `
//	    test("status is ok", () => {
//	        expect(response.status).toBeLevel2xx();
//	    });
//	`, env, response)
package testscript
