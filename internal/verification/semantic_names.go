package verification

// pythonBuiltins is the language's built-in name set as the analyzer knows
// it. Names missing here would surface as false undefined-name errors, so
// the set leans inclusive.
var pythonBuiltins = toSet([]string{
	// Constants
	"True", "False", "None", "NotImplemented", "Ellipsis",
	"__name__", "__file__", "__doc__", "__debug__", "__builtins__",
	"__spec__", "__loader__", "__package__",
	// Types
	"bool", "int", "float", "complex", "str", "bytes", "bytearray",
	"list", "tuple", "dict", "set", "frozenset", "object", "type",
	"memoryview", "range", "slice", "property", "super",
	// Functions
	"abs", "aiter", "all", "anext", "any", "ascii", "bin", "breakpoint",
	"callable", "chr", "classmethod", "compile", "delattr", "dir",
	"divmod", "enumerate", "eval", "exec", "filter", "format", "getattr",
	"globals", "hasattr", "hash", "help", "hex", "id", "input",
	"isinstance", "issubclass", "iter", "len", "locals", "map", "max",
	"min", "next", "oct", "open", "ord", "pow", "print", "repr",
	"reversed", "round", "setattr", "sorted", "staticmethod", "sum",
	"vars", "zip", "__import__",
	// Exceptions
	"BaseException", "Exception", "ArithmeticError", "AssertionError",
	"AttributeError", "BlockingIOError", "BrokenPipeError", "BufferError",
	"BytesWarning", "ChildProcessError", "ConnectionAbortedError",
	"ConnectionError", "ConnectionRefusedError", "ConnectionResetError",
	"DeprecationWarning", "EOFError", "EnvironmentError", "FileExistsError",
	"FileNotFoundError", "FloatingPointError", "FutureWarning",
	"GeneratorExit", "IOError", "ImportError", "ImportWarning",
	"IndentationError", "IndexError", "InterruptedError",
	"IsADirectoryError", "KeyError", "KeyboardInterrupt", "LookupError",
	"MemoryError", "ModuleNotFoundError", "NameError",
	"NotADirectoryError", "NotImplementedError", "OSError",
	"OverflowError", "PendingDeprecationWarning", "PermissionError",
	"ProcessLookupError", "RecursionError", "ReferenceError",
	"ResourceWarning", "RuntimeError", "RuntimeWarning", "StopAsyncIteration",
	"StopIteration", "SyntaxError", "SyntaxWarning", "SystemError",
	"SystemExit", "TabError", "TimeoutError", "TypeError",
	"UnboundLocalError", "UnicodeDecodeError", "UnicodeEncodeError",
	"UnicodeError", "UnicodeTranslateError", "UnicodeWarning",
	"UserWarning", "ValueError", "Warning", "ZeroDivisionError",
	// Common implicit names
	"self", "cls",
})

// pythonStdlib holds the standard-library top-level modules the import
// resolver recognizes without consulting the sandbox.
var pythonStdlib = toSet([]string{
	"abc", "argparse", "array", "ast", "asyncio", "atexit", "base64",
	"bisect", "builtins", "calendar", "cmath", "collections", "concurrent",
	"configparser", "contextlib", "copy", "csv", "ctypes", "dataclasses",
	"datetime", "decimal", "difflib", "dis", "email", "enum", "errno",
	"faulthandler", "fcntl", "filecmp", "fnmatch", "fractions", "functools",
	"gc", "getpass", "glob", "gzip", "hashlib", "heapq", "hmac", "html",
	"http", "importlib", "inspect", "io", "ipaddress", "itertools", "json",
	"keyword", "linecache", "locale", "logging", "lzma", "math", "mimetypes",
	"multiprocessing", "numbers", "operator", "os", "pathlib", "pickle",
	"platform", "pprint", "pty", "queue", "random", "re", "resource",
	"secrets", "select", "selectors", "shlex", "shutil", "signal", "site",
	"socket", "socketserver", "sqlite3", "ssl", "stat", "statistics",
	"string", "struct", "subprocess", "sys", "sysconfig", "tarfile",
	"tempfile", "textwrap", "threading", "time", "timeit", "tkinter",
	"token", "tokenize", "traceback", "types", "typing", "unicodedata",
	"unittest", "urllib", "uuid", "venv", "warnings", "weakref", "xml",
	"zipfile", "zlib", "zoneinfo",
})

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}
