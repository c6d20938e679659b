package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

// Plan interprets a free-form task description into an ordered sequence of
// capability calls. The grammar is a small closed set of directives; anything
// unrecognized falls through to a generic scaffold so every task produces
// some artifact.
func Plan(task string) []Call {
	t := strings.TrimSpace(task)
	if t == "" {
		return nil
	}

	if m := createFileRe.FindStringSubmatch(t); m != nil {
		return []Call{{Kind: KindFilesystem, Op: "write", Path: m[1], Content: m[2]}}
	}

	lower := strings.ToLower(t)
	switch {
	case strings.HasPrefix(lower, "run:"):
		return []Call{{Kind: KindShell, Command: strings.TrimSpace(t[len("run:"):])}}
	case strings.HasPrefix(lower, "shell:"):
		return []Call{{Kind: KindShell, Command: strings.TrimSpace(t[len("shell:"):])}}
	case strings.HasPrefix(lower, "python:"):
		return []Call{{Kind: KindCodeExec, Language: "python", Code: strings.TrimSpace(t[len("python:"):]), Output: "output.txt"}}
	case strings.HasPrefix(lower, "node:"):
		return []Call{{Kind: KindCodeExec, Language: "javascript", Code: strings.TrimSpace(t[len("node:"):]), Output: "output.txt"}}
	case strings.Contains(lower, "react") && strings.Contains(lower, "todo"):
		return reactTodoPlan(t)
	default:
		return genericPlan(t)
	}
}

var createFileRe = regexp.MustCompile(`(?is)^create\s+file\s+(\S+)\s+with\s+content\s+(.+)$`)

// genericPlan scaffolds a minimal deliverable for tasks with no recognized
// directive: a README, a starter script, its captured output and a workflow
// diagram.
func genericPlan(task string) []Call {
	script := fmt.Sprintf(`# Generated for task: %s
print("Working on: %s")

def main():
    print("Implementation goes here")

if __name__ == "__main__":
    main()
`, task, task)

	return []Call{
		{Kind: KindFilesystem, Op: "write", Path: "README.md",
			Content: fmt.Sprintf("# Task\n\n%s\n\n## Implementation\n\nThis is a basic implementation based on your requirements.\n", task)},
		{Kind: KindFilesystem, Op: "write", Path: "main.py", Content: script},
		{Kind: KindCodeExec, Language: "python", Code: script, Output: "output.txt"},
		{Kind: KindDiagram, Output: "workflow.png", Source: `digraph G {
    rankdir=LR;
    Task -> "Analysis" -> "Implementation" -> "Testing" -> "Output";
}
`},
	}
}

// reactTodoPlan scaffolds a small React todo application.
func reactTodoPlan(task string) []Call {
	return []Call{
		{Kind: KindFilesystem, Op: "write", Path: "package.json", Content: todoPackageJSON},
		{Kind: KindFilesystem, Op: "write", Path: "public/index.html", Content: todoIndexHTML},
		{Kind: KindFilesystem, Op: "write", Path: "src/index.js", Content: todoIndexJS},
		{Kind: KindFilesystem, Op: "write", Path: "src/App.js", Content: todoAppJS},
		{Kind: KindFilesystem, Op: "write", Path: "src/styles.css", Content: todoStylesCSS},
		{Kind: KindFilesystem, Op: "write", Path: "README.md",
			Content: fmt.Sprintf("# React Todo App\n\nCreated in response to the task:\n\"%s\"\n\n## How to Run\n\n1. `npm install`\n2. `npm start`\n3. Open http://localhost:3000\n", task)},
		{Kind: KindDiagram, Output: "architecture.png", Source: `digraph TodoApp {
    rankdir=LR;
    node [shape=box, style=filled, fillcolor=lightblue];

    User -> "App Component" -> "Todo List";
    "App Component" -> "Add Todo";
    "Todo List" -> "Todo Item";
    "Todo Item" -> "Toggle Complete";
    "Todo Item" -> "Delete Todo";
}
`},
	}
}

const todoPackageJSON = `{
  "name": "react-todo-app",
  "version": "1.0.0",
  "description": "Simple React Todo App",
  "main": "index.js",
  "scripts": {
    "start": "react-scripts start",
    "build": "react-scripts build"
  },
  "dependencies": {
    "react": "^17.0.2",
    "react-dom": "^17.0.2",
    "react-scripts": "4.0.3"
  }
}
`

const todoIndexHTML = `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>React Todo App</title>
  </head>
  <body>
    <div id="root"></div>
  </body>
</html>
`

const todoIndexJS = `import React from 'react';
import ReactDOM from 'react-dom';
import App from './App';
import './styles.css';

ReactDOM.render(
  <React.StrictMode>
    <App />
  </React.StrictMode>,
  document.getElementById('root')
);
`

const todoAppJS = `import React, { useState } from 'react';

function App() {
  const [todos, setTodos] = useState([]);
  const [input, setInput] = useState('');

  const addTodo = () => {
    if (input.trim() === '') return;
    setTodos([...todos, { id: Date.now(), text: input, completed: false }]);
    setInput('');
  };

  const toggleTodo = (id) => {
    setTodos(
      todos.map((todo) =>
        todo.id === id ? { ...todo, completed: !todo.completed } : todo
      )
    );
  };

  const deleteTodo = (id) => {
    setTodos(todos.filter((todo) => todo.id !== id));
  };

  return (
    <div className="app">
      <h1>Todo App</h1>
      <div className="add-todo">
        <input
          value={input}
          onChange={(e) => setInput(e.target.value)}
          placeholder="Add a todo"
          onKeyPress={(e) => e.key === 'Enter' && addTodo()}
        />
        <button onClick={addTodo}>Add</button>
      </div>
      <ul className="todo-list">
        {todos.map((todo) => (
          <li key={todo.id} className={todo.completed ? 'completed' : ''}>
            <span onClick={() => toggleTodo(todo.id)}>{todo.text}</span>
            <button onClick={() => deleteTodo(todo.id)}>Delete</button>
          </li>
        ))}
      </ul>
      <div className="info">
        <p>{todos.filter((todo) => !todo.completed).length} tasks left</p>
      </div>
    </div>
  );
}

export default App;
`

const todoStylesCSS = `body {
  font-family: 'Arial', sans-serif;
  margin: 0;
  padding: 0;
  background-color: #f5f5f5;
}

.app {
  max-width: 500px;
  margin: 2rem auto;
  padding: 1rem;
  background-color: white;
  border-radius: 5px;
}

.todo-list {
  list-style-type: none;
  padding: 0;
}

.todo-list li.completed span {
  text-decoration: line-through;
  color: #888;
}
`
